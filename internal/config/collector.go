// Package config provides typed configuration structs for the collector and
// task server binaries, loaded from CLI flags (collector, via kong) and
// environment variables (server).
package config

import (
	"time"

	"github.com/autorepair/autorepair/internal/collector/extractor"
	"github.com/autorepair/autorepair/internal/incident"
)

// CollectorFile configures `collector file` mode (tailing one log file).
type CollectorFile struct {
	Path          string            `help:"Path to the log file to tail." required:""`
	RepoURL       string            `name:"repo-url" help:"Git URL of the repository this log belongs to." required:""`
	CodeHost      incident.CodeHost `name:"code-host" help:"Code host for this repository." enum:"github,gitlab" required:""`
	DefaultBranch string            `name:"default-branch" help:"Base branch to fork fix branches from." default:"main"`
	ServiceName   string            `name:"service-name" help:"Service name attached to reported events."`
	Environment   string            `help:"Deployment environment attached to reported events." default:"production"`

	Language           extractor.Language    `help:"Error language hint." enum:"auto,python,java" default:"auto"`
	Filter             extractor.FilterLevel `help:"Evidence filter strictness." enum:"strict,balanced,lenient" default:"balanced"`
	ContextLinesBefore int                   `name:"context-lines" help:"Lines of context to keep before the traceback header." default:"3"`
	MaxRawExcerpt      int                   `name:"max-excerpt" help:"Maximum excerpt length in characters." default:"4000"`
	MaxFrames          int                   `name:"max-frames" help:"Maximum stack frames to keep." default:"10"`

	Keywords        []string      `help:"Keywords that arm the debounce window (comma-separated)."`
	DebounceSeconds float64       `name:"debounce-seconds" help:"Seconds to wait for more matching lines before reporting." default:"2"`
	DedupWindow     time.Duration `name:"dedup-window" help:"Window within which identical fingerprints are suppressed." default:"1h"`
	HTTPTimeout     time.Duration `name:"http-timeout" help:"Timeout for delivering events to the task server." default:"10s"`

	ServerURL string `name:"server-url" help:"Base URL of the task server." required:""`
	APIKey    string `name:"api-key" help:"Shared secret for authenticating to the task server." env:"API_KEY"`
}

// CollectorSearch configures `collector search` mode (polling an external
// log search backend).
type CollectorSearch struct {
	CollectorFile
	SearchEndpoint string        `name:"search-endpoint" help:"Base URL of the log search backend." required:""`
	SearchIndex    string        `name:"search-index" help:"Index or log group to search."`
	SearchQuery    string        `name:"search-query" help:"Query string narrowing which log lines are considered."`
	PollInterval   time.Duration `name:"poll-interval" help:"How often to poll the search backend." default:"30s"`
	SinceWindow    time.Duration `name:"since-window" help:"How far back to look on first poll." default:"1h"`
	BatchSize      int           `name:"batch-size" help:"Maximum hits to request per poll." default:"100"`
}

// ExtractorOptions builds an extractor.Options from the shared collector
// flags.
func (c CollectorFile) ExtractorOptions() extractor.Options {
	return extractor.Options{
		Language:           c.Language,
		Filter:             c.Filter,
		ContextLinesBefore: c.ContextLinesBefore,
		MaxRawExcerpt:      c.MaxRawExcerpt,
		MaxFrames:          c.MaxFrames,
	}
}
