package notifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTMLIncludesExcerptAndPRLink(t *testing.T) {
	html, err := renderHTML(Summary{
		RepoURL:      "https://github.com/o/r",
		ErrorExcerpt: "ValueError: <bad>",
		AIAnalysisMD: "**root cause**: bad input",
		PRURL:        "https://github.com/o/r/pull/1",
	})
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;bad&gt;")
	assert.Contains(t, html, "root cause")
	assert.Contains(t, html, "https://github.com/o/r/pull/1")
}

func TestNotifyNoOpWhenDisabled(t *testing.T) {
	n := New(Config{Enabled: false}, nil)
	n.Notify(t.Context(), Summary{RepoURL: "x"}) // must not panic or block
}

func TestBuildMIMEMessageHeaders(t *testing.T) {
	msg := string(buildMIMEMessage("bot@example.com", []string{"a@example.com", "b@example.com"}, "subj", "<p>hi</p>"))
	assert.True(t, strings.Contains(msg, "From: bot@example.com"))
	assert.True(t, strings.Contains(msg, "To: a@example.com, b@example.com"))
	assert.True(t, strings.Contains(msg, "Subject: subj"))
}
