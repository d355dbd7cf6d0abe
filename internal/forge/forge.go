// Package forge implements the Code-Host Adapter: a uniform capability
// surface over GitHub and GitLab, plus inbound webhook verification and
// event parsing.
package forge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/incident"
)

// Client is the uniform capability surface required by the Task Runner,
// implemented separately for each code host.
type Client interface {
	// CreateFixBranch creates local branch "fix/<reason>-<epoch>" at the
	// workspace's current HEAD, returning the branch name. The branch is
	// not pushed here; CommitAndPush pushes it.
	CreateFixBranch(ctx context.Context, reason string) (string, error)
	// CommitAndPush stages the current working tree and pushes branch.
	CommitAndPush(ctx context.Context, branch, message string) (commitSHA string, err error)
	// CreatePullRequest opens a PR/MR from branch onto the default branch.
	CreatePullRequest(ctx context.Context, branch, title, body string) (url string, err error)
	// FetchPRBranch resolves and checks out the head branch of an existing
	// pull/merge request.
	FetchPRBranch(ctx context.Context, prNumber int) (branch string, err error)
	// CleanUp checks out baseBranch, leaving the workspace in a neutral
	// state before release.
	CleanUp(ctx context.Context, baseBranch string) error
}

// Config carries per-repo credentials and identity needed to construct a
// Client.
type Config struct {
	CodeHost   incident.CodeHost
	RepoURL    string
	Token      string
	WorkingDir string
}

// New constructs the Client implementation for cfg.CodeHost.
func New(cfg Config) (Client, error) {
	switch cfg.CodeHost {
	case incident.CodeHostGitHub:
		return newGitHubClient(cfg), nil
	case incident.CodeHostGitLab:
		return newGitLabClient(cfg), nil
	default:
		return nil, foundationerrors.ValidationError(fmt.Sprintf("forge: unsupported code host %q", cfg.CodeHost)).Build()
	}
}

// ValidateWebhook verifies a GitHub-style HMAC-SHA256 signature header
// ("sha256=<hex>") against body using secret, with a constant-time
// comparison.
func ValidateWebhook(secret string, signatureHeader string, body []byte) bool {
	if secret == "" {
		return true
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}

// PRCommentEvent is the normalized shape extracted from a GitHub webhook
// payload, regardless of which of the three recognized event types it came
// from.
type PRCommentEvent struct {
	RepoURL   string
	PRURL     string
	PRNumber  int
	Comment   string
}

// ParseWebhookEvent recognizes issue_comment (only on a PR), pull_request_review_comment,
// and pull_request_review GitHub event payloads and extracts a PRCommentEvent.
// eventType is the value of the X-GitHub-Event header. ok is false for any
// other event type or shape, in which case the caller should 204 the request.
func ParseWebhookEvent(eventType string, body []byte) (PRCommentEvent, bool, error) {
	switch eventType {
	case "issue_comment":
		return parseIssueComment(body)
	case "pull_request_review_comment":
		return parseReviewComment(body)
	case "pull_request_review":
		return parseReview(body)
	default:
		return PRCommentEvent{}, false, nil
	}
}

func parseIssueComment(body []byte) (PRCommentEvent, bool, error) {
	var payload struct {
		Action string `json:"action"`
		Issue  struct {
			PullRequest *struct {
				HTMLURL string `json:"html_url"`
			} `json:"pull_request"`
			Number int `json:"number"`
		} `json:"issue"`
		Comment struct {
			Body string `json:"body"`
		} `json:"comment"`
		Repository struct {
			HTMLURL string `json:"html_url"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return PRCommentEvent{}, false, foundationerrors.ValidationError("forge: malformed issue_comment payload").Build()
	}
	if payload.Issue.PullRequest == nil {
		return PRCommentEvent{}, false, nil
	}
	return PRCommentEvent{
		RepoURL:  payload.Repository.HTMLURL,
		PRURL:    payload.Issue.PullRequest.HTMLURL,
		PRNumber: payload.Issue.Number,
		Comment:  payload.Comment.Body,
	}, true, nil
}

func parseReviewComment(body []byte) (PRCommentEvent, bool, error) {
	var payload struct {
		PullRequest struct {
			HTMLURL string `json:"html_url"`
			Number  int    `json:"number"`
		} `json:"pull_request"`
		Comment struct {
			Body string `json:"body"`
		} `json:"comment"`
		Repository struct {
			HTMLURL string `json:"html_url"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return PRCommentEvent{}, false, foundationerrors.ValidationError("forge: malformed pull_request_review_comment payload").Build()
	}
	return PRCommentEvent{
		RepoURL:  payload.Repository.HTMLURL,
		PRURL:    payload.PullRequest.HTMLURL,
		PRNumber: payload.PullRequest.Number,
		Comment:  payload.Comment.Body,
	}, true, nil
}

func parseReview(body []byte) (PRCommentEvent, bool, error) {
	var payload struct {
		PullRequest struct {
			HTMLURL string `json:"html_url"`
			Number  int    `json:"number"`
		} `json:"pull_request"`
		Review struct {
			Body string `json:"body"`
		} `json:"review"`
		Repository struct {
			HTMLURL string `json:"html_url"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return PRCommentEvent{}, false, foundationerrors.ValidationError("forge: malformed pull_request_review payload").Build()
	}
	if strings.TrimSpace(payload.Review.Body) == "" {
		return PRCommentEvent{}, false, nil
	}
	return PRCommentEvent{
		RepoURL:  payload.Repository.HTMLURL,
		PRURL:    payload.PullRequest.HTMLURL,
		PRNumber: payload.PullRequest.Number,
		Comment:  payload.Review.Body,
	}, true, nil
}

// StripCommandPrefix removes an optional command gate prefix (e.g.
// "/ai-ops") from comment, reporting whether the prefix was present. When a
// non-empty prefix is configured and absent, the caller should ignore the
// comment entirely.
func StripCommandPrefix(comment, prefix string) (stripped string, matched bool) {
	if prefix == "" {
		return comment, true
	}
	trimmed := strings.TrimSpace(comment)
	if !strings.HasPrefix(trimmed, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), true
}
