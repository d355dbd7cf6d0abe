package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/autorepair/autorepair/internal/foundation/normalization"
	"github.com/autorepair/autorepair/internal/incident"
)

var codeHostNormalizer = normalization.NewNormalizer(map[string]incident.CodeHost{
	"github": incident.CodeHostGitHub,
	"gitlab": incident.CodeHostGitLab,
}, incident.CodeHost(""))

var fixModeNormalizer = normalization.NewEnumNormalizer("CLAUDE_FIX_MODE", map[string]string{
	"agentic": "agentic",
	"blocks":  "blocks",
}, "agentic")

// ServerConfig configures the task server binary, loaded entirely from
// environment variables
type ServerConfig struct {
	HTTPHost string
	HTTPPort int
	APIKey   string

	TraceDBPath        string
	WorkspacesDir      string
	MaxConcurrentTasks int

	CodeHost         incident.CodeHost
	GitHubToken      string
	GitLabToken      string
	GitHubWebhookSecret string

	SMTPEnabled  bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string

	ClaudeCommand          string
	ClaudeArgs             []string
	ClaudeFixMode          string
	PRCommentCommandPrefix string

	DebounceSeconds  float64
	DedupWindow      time.Duration
	MaxErrorQueueLen int
	Keywords         []string

	TaskQueueNATSURL string
}

// LoadServerConfig reads ServerConfig from the process environment,
// optionally preloaded from a .env/.env.local file (loadEnvFile below).
func LoadServerConfig() (ServerConfig, error) {
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "config: no .env file loaded: %v\n", err)
	}

	cfg := ServerConfig{
		HTTPHost:           getEnvDefault("HTTP_HOST", "0.0.0.0"),
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		APIKey:             os.Getenv("SERVER_API_KEY"),
		TraceDBPath:        getEnvDefault("TRACE_DB_PATH", "./autorepair.db"),
		WorkspacesDir:      getEnvDefault("WORKSPACES_DIR", "./workspaces"),
		MaxConcurrentTasks: getEnvInt("MAX_CONCURRENT_TASKS", 1),

		CodeHost:            codeHostNormalizer.Normalize(getEnvDefault("CODE_HOST", "github")),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		GitLabToken:         os.Getenv("GITLAB_TOKEN"),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPTo:       splitNonEmpty(os.Getenv("SMTP_TO"), ","),

		ClaudeCommand:          getEnvDefault("CLAUDE_COMMAND", "claude"),
		ClaudeArgs:             splitNonEmpty(os.Getenv("CLAUDE_ARGS"), " "),
		ClaudeFixMode:          getEnvDefault("CLAUDE_FIX_MODE", "agentic"),
		PRCommentCommandPrefix: os.Getenv("PR_COMMENT_COMMAND_PREFIX"),

		DebounceSeconds:  getEnvFloat("DEBOUNCE_SECONDS", 2),
		DedupWindow:      time.Duration(getEnvInt("DEDUP_WINDOW_SECONDS", 3600)) * time.Second,
		MaxErrorQueueLen: getEnvInt("MAX_ERROR_QUEUE_SIZE", 1000),
		Keywords:         splitNonEmpty(os.Getenv("KEYWORDS"), ","),

		TaskQueueNATSURL: os.Getenv("TASK_QUEUE_NATS_URL"),
	}
	cfg.SMTPEnabled = cfg.SMTPHost != "" && len(cfg.SMTPTo) > 0

	if !codeHostNormalizer.ValidateEnum(cfg.CodeHost) {
		return ServerConfig{}, fmt.Errorf("config: CODE_HOST must be one of %v, got %q", codeHostNormalizer.ValidKeys(), cfg.CodeHost)
	}
	fixMode, err := fixModeNormalizer.NormalizeWithValidation(cfg.ClaudeFixMode)
	if err != nil {
		return ServerConfig{}, err
	}
	cfg.ClaudeFixMode = fixMode
	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
