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

const githubAPIBase = "https://api.github.com"

// githubClient implements Client against the GitHub REST API.
type githubClient struct {
	cfg        Config
	httpClient *http.Client
	owner      string
	repoName   string
	repo       *git.Repo
}

func newGitHubClient(cfg Config) *githubClient {
	owner, repoName := splitOwnerRepo(cfg.RepoURL)
	return &githubClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		owner:      owner,
		repoName:   repoName,
	}
}

func (c *githubClient) auth() git.Auth { return git.Auth{Username: "x-access-token", Token: c.cfg.Token} }

func (c *githubClient) ensureRepo() error {
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

func (c *githubClient) CreateFixBranch(ctx context.Context, reason string) (string, error) {
	if err := c.ensureRepo(); err != nil {
		return "", err
	}
	branch := fmt.Sprintf("fix/%s-%d", reason, time.Now().Unix())
	if err := c.repo.CreateBranch(branch); err != nil {
		return "", err
	}
	return branch, nil
}

func (c *githubClient) CommitAndPush(ctx context.Context, branch, message string) (string, error) {
	if err := c.ensureRepo(); err != nil {
		return "", err
	}
	sha, err := c.repo.CommitAll(message, "autorepair-bot", "autorepair-bot@users.noreply.github.com")
	if err != nil {
		return "", err
	}
	if err := c.repo.Push(ctx, c.auth()); err != nil {
		return "", err
	}
	return sha, nil
}

func (c *githubClient) CreatePullRequest(ctx context.Context, branch, title, body string) (string, error) {
	base, err := c.defaultBranch(ctx)
	if err != nil {
		return "", err
	}
	reqBody, _ := json.Marshal(map[string]string{
		"title": title,
		"head":  branch,
		"base":  base,
		"body":  body,
	})
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls", githubAPIBase, c.owner, c.repoName)
	var resp struct {
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, reqBody, &resp); err != nil {
		return "", err
	}
	return resp.HTMLURL, nil
}

func (c *githubClient) FetchPRBranch(ctx context.Context, prNumber int) (string, error) {
	if err := c.ensureRepo(); err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", githubAPIBase, c.owner, c.repoName, prNumber)
	var resp struct {
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	if err := c.repo.FetchBranch(ctx, resp.Head.Ref, c.auth()); err != nil {
		return "", err
	}
	return resp.Head.Ref, nil
}

func (c *githubClient) CleanUp(ctx context.Context, baseBranch string) error {
	if err := c.ensureRepo(); err != nil {
		return err
	}
	return c.repo.CheckoutBranch(baseBranch)
}

func (c *githubClient) defaultBranch(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", githubAPIBase, c.owner, c.repoName)
	var resp struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	return resp.DefaultBranch, nil
}

func (c *githubClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
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
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryRemoteAPI, "forge: github request failed").Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return foundationerrors.RemoteAPIError(fmt.Sprintf("forge: github returned %d", resp.StatusCode)).
			WithContext("endpoint", endpoint).WithContext("status", resp.StatusCode).Build()
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return foundationerrors.WrapError(err, foundationerrors.CategoryRemoteAPI, "forge: decode github response failed").Build()
		}
	}
	return nil
}

// splitOwnerRepo extracts "owner/repo" from an https or ssh GitHub URL.
func splitOwnerRepo(repoURL string) (owner, repo string) {
	u := strings.TrimSuffix(repoURL, ".git")
	if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
		parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(parts) >= 2 {
			return parts[0], parts[1]
		}
	}
	if i := strings.LastIndex(u, ":"); i >= 0 {
		parts := strings.Split(u[i+1:], "/")
		if len(parts) >= 2 {
			return parts[0], parts[1]
		}
	}
	return "", ""
}
