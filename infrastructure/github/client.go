// Package github implements the engine's single network boundary: every
// outbound call to the GitHub API and the raw-content host goes through the
// Client defined here, behind a uniform retry and pacing policy.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/classops/gradefetch/domain"
)

const (
	defaultRawBaseURL = "https://raw.githubusercontent.com"

	perPage     = 100
	maxAttempts = 6

	backoffMin = 1 * time.Second
	backoffCap = 60 * time.Second

	// Outbound pacing; polite even against the authenticated quota.
	requestsPerSecond = 8
	requestBurst      = 4

	branchCacheSize = 128
	errBodyLimit    = 200

	rateLimitResetHeader = "X-RateLimit-Reset"
)

var (
	errNoDefaultBranch = errors.New("repository metadata has no default branch")
	errEmptyCommitSHA  = errors.New("commit response has an empty sha")
)

// Client talks to the GitHub API and the raw-content host. API calls go
// through go-github; both surfaces share one retrying, rate-limited HTTP
// client.
type Client struct {
	token      string
	api        *gh.Client
	httpClient *http.Client
	rawBaseURL string

	// Per-run memo of default-branch lookups; many students submit the
	// same team repository.
	branches *lru.Cache[string, string]
}

var _ domain.RepoClient = (*Client)(nil)

// Option customizes a Client (endpoints, pacing). Used by tests to point
// the client at a local server.
type Option func(*options)

type options struct {
	apiBaseURL string
	rawBaseURL string
	limit      rate.Limit
}

// WithAPIBaseURL overrides the GitHub API endpoint.
func WithAPIBaseURL(u string) Option {
	return func(o *options) { o.apiBaseURL = u }
}

// WithRawBaseURL overrides the raw-content endpoint.
func WithRawBaseURL(u string) Option {
	return func(o *options) { o.rawBaseURL = u }
}

// WithRequestRate overrides the outbound request pacing.
func WithRequestRate(limit rate.Limit) Option {
	return func(o *options) { o.limit = limit }
}

// NewClient creates a Client. An empty token means unauthenticated access
// (low rate limits, fine for small runs).
func NewClient(token string, opts ...Option) (*Client, error) {
	o := options{rawBaseURL: defaultRawBaseURL, limit: rate.Limit(requestsPerSecond)}
	for _, apply := range opts {
		apply(&o)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = maxAttempts - 1
	rc.RetryWaitMin = backoffMin
	rc.RetryWaitMax = backoffCap
	rc.CheckRetry = checkRetry
	rc.Backoff = rateLimitBackoff
	rc.Logger = nil
	rc.HTTPClient.Transport = &pacedTransport{
		limiter: rate.NewLimiter(o.limit, requestBurst),
		base:    http.DefaultTransport,
	}

	httpClient := rc.StandardClient()

	api := gh.NewClient(httpClient)
	if token != "" {
		api = api.WithAuthToken(token)
	}
	if o.apiBaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(o.apiBaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL %q: %w", o.apiBaseURL, err)
		}
		api.BaseURL = base
	}

	branches, err := lru.New[string, string](branchCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch cache: %w", err)
	}

	return &Client{
		token:      token,
		api:        api,
		httpClient: httpClient,
		rawBaseURL: strings.TrimSuffix(o.rawBaseURL, "/"),
		branches:   branches,
	}, nil
}

// checkRetry retries only rate-limit responses (403/429) and transport
// errors. Any other non-2xx status is handed back immediately: those calls
// are treated as client errors, not transient ones.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, err
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	return false, nil
}

// rateLimitBackoff sleeps until the advertised rate-limit reset when the
// response carries one (reset_epoch - now + 1, floored at zero), otherwise
// falls back to exponential backoff between min and max.
func rateLimitBackoff(minWait, maxWait time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil {
		if reset := resp.Header.Get(rateLimitResetHeader); reset != "" {
			if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
				wait := time.Until(time.Unix(epoch, 0)) + time.Second
				if wait < 0 {
					wait = 0
				}
				logger.Warnf("Rate limited (%d); sleeping %s until reset", resp.StatusCode, wait)
				return wait
			}
		}
	}
	wait := minWait << uint(attemptNum)
	if wait > maxWait || wait <= 0 {
		wait = maxWait
	}
	return wait
}

// pacedTransport applies client-side pacing before every attempt,
// including retries.
type pacedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// DefaultBranch resolves (and memoizes) the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	key := owner + "/" + repo
	if branch, ok := c.branches.Get(key); ok {
		return branch, nil
	}

	repository, _, err := c.api.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("failed to get repository %s/%s: %w", owner, repo, err)
	}

	branch := repository.GetDefaultBranch()
	if branch == "" {
		return "", errNoDefaultBranch
	}

	c.branches.Add(key, branch)
	return branch, nil
}

// BranchHead resolves the head commit SHA of a named branch.
func (c *Client) BranchHead(ctx context.Context, owner, repo, branch string) (string, error) {
	commit, _, err := c.api.Repositories.GetCommit(ctx, owner, repo, branch, nil)
	if err != nil {
		return "", fmt.Errorf("failed to resolve head of %q: %w", branch, err)
	}
	sha := commit.GetSHA()
	if sha == "" {
		return "", errEmptyCommitSHA
	}
	return sha, nil
}

// ListCommits returns one page of the branch's history (newest-first) with
// just commit id and committer timestamp, plus the next page number.
func (c *Client) ListCommits(
	ctx context.Context,
	owner, repo, branch string,
	page int,
) ([]domain.CommitInfo, int, error) {
	opts := &gh.CommitsListOptions{
		SHA:         branch,
		ListOptions: gh.ListOptions{PerPage: perPage, Page: page},
	}

	commits, resp, err := c.api.Repositories.ListCommits(ctx, owner, repo, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list commits of %q: %w", branch, err)
	}

	out := make([]domain.CommitInfo, 0, len(commits))
	for _, commit := range commits {
		out = append(out, domain.CommitInfo{
			SHA:         commit.GetSHA(),
			CommittedAt: commit.GetCommit().GetCommitter().GetDate().Time.UTC(),
		})
	}
	return out, resp.NextPage, nil
}

// ListTree returns the full recursive tree at a commit.
func (c *Client) ListTree(ctx context.Context, owner, repo, sha string) ([]domain.TreeEntry, error) {
	tree, _, err := c.api.Git.GetTree(ctx, owner, repo, sha, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list tree at %s: %w", sha, err)
	}

	out := make([]domain.TreeEntry, 0, len(tree.Entries))
	for _, ent := range tree.Entries {
		out = append(out, domain.TreeEntry{
			Path: ent.GetPath(),
			Type: ent.GetType(),
		})
	}
	return out, nil
}

// ContentsMeta probes whether a path is a file or a directory at a ref.
// Probe failures are non-fatal for the student, so any error is reported
// as "no metadata" rather than propagated.
func (c *Client) ContentsMeta(
	ctx context.Context,
	owner, repo, refPath, ref string,
) (*domain.ContentMeta, error) {
	if refPath == "" {
		return nil, nil
	}

	file, dir, _, err := c.api.Repositories.GetContents(
		ctx, owner, repo, refPath,
		&gh.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		logger.Debugf("contents probe failed for %q at %s: %v", refPath, ref, err)
		return nil, nil
	}

	if file != nil && file.GetType() == "file" {
		return &domain.ContentMeta{
			Kind: domain.ContentFile,
			Path: file.GetPath(),
			Name: file.GetName(),
		}, nil
	}
	if dir != nil {
		return &domain.ContentMeta{
			Kind: domain.ContentDir,
			Path: refPath,
			Name: path.Base(refPath),
		}, nil
	}
	return nil, nil
}

// FetchRaw downloads raw bytes from the raw-content host. The path is
// re-encoded segment by segment regardless of its arrival state.
func (c *Client) FetchRaw(ctx context.Context, owner, repo, ref, refPath string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/%s",
		c.rawBaseURL, owner, repo, ref, EncodePathSegments(refPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw request for %q: %w", refPath, err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3.raw")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("raw fetch failed for %q: %w", refPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return nil, fmt.Errorf("HTTP %d fetching %q: %s", resp.StatusCode, refPath, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw body for %q: %w", refPath, err)
	}
	return data, nil
}

// EncodePathSegments percent-encodes a repository path segment by segment.
// Each segment is decoded first, so already-encoded input is not
// double-encoded and literal slashes are never encoded.
func EncodePathSegments(p string) string {
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		if dec, err := url.PathUnescape(seg); err == nil {
			seg = dec
		}
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
