package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/certgen/certgen/internal/config"
)

// UserAgent 是访问 GitHub API 时使用的标识。
const UserAgent = "certgen-uploader"

// APIError 表示 GitHub 返回了非 2xx 响应；Body 原样透传给调用方。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api status %d: %s", e.StatusCode, e.Body)
}

// GitHubClient 通过 contents API 在指定分支上创建或更新文件。
type GitHubClient struct {
	http    *http.Client
	baseURL string
	owner   string
	repo    string
	branch  string
}

// NewGitHubClient 基于 base 的 Transport 叠加 Bearer 鉴权。base 为 nil 时使用默认客户端。
func NewGitHubClient(cfg config.PublishConfig, base *http.Client) *GitHubClient {
	if base == nil {
		base = http.DefaultClient
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Token,
		TokenType:   "Bearer",
	}))
	authed.Timeout = base.Timeout

	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return &GitHubClient{
		http:    authed,
		baseURL: baseURL,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  branch,
	}
}

// Branch 返回提交目标分支。
func (c *GitHubClient) Branch() string { return c.branch }

type contentsResponse struct {
	SHA string `json:"sha"`
}

type putContentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

// FileSHA 查询文件在目标分支上的 blob sha。非 2xx（包括 404）一律视为不存在。
func (c *GitHubClient) FileSHA(ctx context.Context, path string) (string, error) {
	endpoint := c.contentsURL(path) + "?ref=" + url.QueryEscape(c.branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", nil
	}
	var payload contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode contents of %s: %w", path, err)
	}
	return payload.SHA, nil
}

// PutFile 写入 base64 内容；sha 非空时表示更新已有文件。
func (c *GitHubClient) PutFile(ctx context.Context, path, message, contentBase64, sha string) error {
	body, err := json.Marshal(putContentsRequest{
		Message: message,
		Content: contentBase64,
		Branch:  c.branch,
		SHA:     sha,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: string(text)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Upsert 先查询 sha 再写入，重复发布同一路径会更新而不是失败。
func (c *GitHubClient) Upsert(ctx context.Context, path, message, contentBase64 string) error {
	sha, err := c.FileSHA(ctx, path)
	if err != nil {
		return err
	}
	return c.PutFile(ctx, path, message, contentBase64, sha)
}

func (c *GitHubClient) contentsURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), strings.Join(segments, "/"))
}

// IsAPIError 判断 err 是否为 GitHub 非 2xx 响应。
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
