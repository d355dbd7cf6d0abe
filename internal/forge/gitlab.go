package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/git"
)

const gitlabAPIBase = "https://gitlab.com/api/v4"

// gitlabClient implements Client against the GitLab REST API, with the
// project path URL-encoded
type gitlabClient struct {
	cfg         Config
	httpClient  *http.Client
	projectPath string
	repo        *git.Repo
}

func newGitLabClient(cfg Config) *gitlabClient {
	return &gitlabClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		projectPath: projectPathFromURL(cfg.RepoURL),
	}
}

func (c *gitlabClient) auth() git.Auth { return git.Auth{Username: "oauth2", Token: c.cfg.Token} }

func (c *gitlabClient) ensureRepo() error {
	if c.repo != nil {
		return nil
	}
	r, err := git.Open(c.cfg.WorkingDir)
	if err != nil {
		return err
	}
	c.repo = r
	return nil
}

func (c *gitlabClient) CreateFixBranch(ctx context.Context, reason string) (string, error) {
	if err := c.ensureRepo(); err != nil {
		return "", err
	}
	branch := fmt.Sprintf("fix/%s-%d", reason, time.Now().Unix())
	if err := c.repo.CreateBranch(branch); err != nil {
		return "", err
	}
	return branch, nil
}

func (c *gitlabClient) CommitAndPush(ctx context.Context, branch, message string) (string, error) {
	if err := c.ensureRepo(); err != nil {
		return "", err
	}
	sha, err := c.repo.CommitAll(message, "autorepair-bot", "autorepair-bot@users.noreply.gitlab.com")
	if err != nil {
		return "", err
	}
	if err := c.repo.Push(ctx, c.auth()); err != nil {
		return "", err
	}
	return sha, nil
}

func (c *gitlabClient) CreatePullRequest(ctx context.Context, branch, title, body string) (string, error) {
	base, err := c.defaultBranch(ctx)
	if err != nil {
		return "", err
	}
	reqBody, _ := json.Marshal(map[string]string{
		"source_branch": branch,
		"target_branch": base,
		"title":         title,
		"description":   body,
	})
	endpoint := fmt.Sprintf("%s/projects/%s/merge_requests", gitlabAPIBase, url.PathEscape(c.projectPath))
	var resp struct {
		WebURL string `json:"web_url"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, reqBody, &resp); err != nil {
		return "", err
	}
	return resp.WebURL, nil
}

func (c *gitlabClient) FetchPRBranch(ctx context.Context, mrNumber int) (string, error) {
	if err := c.ensureRepo(); err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/projects/%s/merge_requests/%d", gitlabAPIBase, url.PathEscape(c.projectPath), mrNumber)
	var resp struct {
		SourceBranch string `json:"source_branch"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	if err := c.repo.FetchBranch(ctx, resp.SourceBranch, c.auth()); err != nil {
		return "", err
	}
	return resp.SourceBranch, nil
}

func (c *gitlabClient) CleanUp(ctx context.Context, baseBranch string) error {
	if err := c.ensureRepo(); err != nil {
		return err
	}
	return c.repo.CheckoutBranch(baseBranch)
}

func (c *gitlabClient) defaultBranch(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/projects/%s", gitlabAPIBase, url.PathEscape(c.projectPath))
	var resp struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	return resp.DefaultBranch, nil
}

func (c *gitlabClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryRemoteAPI, "forge: build request failed").Build()
	}
	req.Header.Set("PRIVATE-TOKEN", c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryRemoteAPI, "forge: gitlab request failed").Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return foundationerrors.RemoteAPIError(fmt.Sprintf("forge: gitlab returned %d", resp.StatusCode)).
			WithContext("endpoint", endpoint).WithContext("status", resp.StatusCode).Build()
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return foundationerrors.WrapError(err, foundationerrors.CategoryRemoteAPI, "forge: decode gitlab response failed").Build()
		}
	}
	return nil
}

// projectPathFromURL extracts "group/subgroup/project" from a GitLab URL.
func projectPathFromURL(repoURL string) string {
	u := strings.TrimSuffix(repoURL, ".git")
	if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
		return strings.Trim(parsed.Path, "/")
	}
	if i := strings.LastIndex(u, ":"); i >= 0 {
		return u[i+1:]
	}
	return ""
}
