package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("HTTP_HOST", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("CODE_HOST", "")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.HTTPHost)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 1, cfg.MaxConcurrentTasks)
	assert.EqualValues(t, "github", cfg.CodeHost)
}

func TestLoadServerConfigRejectsUnknownCodeHost(t *testing.T) {
	t.Setenv("CODE_HOST", "bitbucket")
	_, err := LoadServerConfig()
	assert.Error(t, err)
}

func TestLoadServerConfigParsesLists(t *testing.T) {
	t.Setenv("SMTP_TO", "a@example.com, b@example.com")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("KEYWORDS", "ERROR, Exception")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.SMTPTo)
	assert.Equal(t, []string{"ERROR", "Exception"}, cfg.Keywords)
	assert.True(t, cfg.SMTPEnabled)
}
