package forge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidateWebhookAcceptsCorrectSignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := sign("topsecret", body)
	assert.True(t, ValidateWebhook("topsecret", sig, body))
}

func TestValidateWebhookRejectsBadSignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	assert.False(t, ValidateWebhook("topsecret", "sha256=deadbeef", body))
}

func TestValidateWebhookNoSecretConfiguredAlwaysPasses(t *testing.T) {
	assert.True(t, ValidateWebhook("", "", []byte("anything")))
}

func TestParseIssueCommentOnPullRequest(t *testing.T) {
	body := []byte(`{
		"action": "created",
		"issue": {"number": 42, "pull_request": {"html_url": "https://github.com/o/r/pull/42"}},
		"comment": {"body": "/ai-ops please retry"},
		"repository": {"html_url": "https://github.com/o/r"}
	}`)
	ev, ok, err := ParseWebhookEvent("issue_comment", body)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, ev.PRNumber)
	assert.Equal(t, "https://github.com/o/r/pull/42", ev.PRURL)
}

func TestParseIssueCommentOnPlainIssueIgnored(t *testing.T) {
	body := []byte(`{
		"action": "created",
		"issue": {"number": 1},
		"comment": {"body": "not a pr"},
		"repository": {"html_url": "https://github.com/o/r"}
	}`)
	_, ok, err := ParseWebhookEvent("issue_comment", body)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStripCommandPrefix(t *testing.T) {
	stripped, matched := StripCommandPrefix("/ai-ops fix this", "/ai-ops")
	assert.True(t, matched)
	assert.Equal(t, "fix this", stripped)

	_, matched = StripCommandPrefix("unrelated comment", "/ai-ops")
	assert.False(t, matched)
}

func TestSplitOwnerRepo(t *testing.T) {
	owner, repo := splitOwnerRepo("https://github.com/acme/widget.git")
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widget", repo)

	owner, repo = splitOwnerRepo("git@github.com:acme/widget.git")
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widget", repo)
}
