// Package testdoubles provides test doubles (spies, stubs, dummies) for domain
// interfaces. These are hand-crafted implementations — no mock frameworks.
package testdoubles

import (
	"context"

	"github.com/classops/gradefetch/domain"
)

// ---------------------------------------------------------------------------
// SpyRepoClient
// ---------------------------------------------------------------------------

// SpyRepoClient implements domain.RepoClient as a configurable spy.
// Configure the response fields for the methods your test exercises,
// then inspect the call-tracking fields to verify behavior.
type SpyRepoClient struct {
	// --- DefaultBranch ---
	DefaultBranchName string
	DefaultBranchErr  error
	// spy: owner/repo pairs requested
	DefaultBranchCalls []string

	// --- BranchHead ---
	HeadSHA string
	HeadErr error
	// spy: branches requested
	HeadBranches []string

	// --- ListCommits ---
	// CommitPages[i] is page i+1 of the history, newest-first.
	CommitPages    [][]domain.CommitInfo
	ListCommitsErr error
	// spy: pages requested
	RequestedPages []int

	// --- ListTree ---
	Tree        []domain.TreeEntry
	ListTreeErr error
	// spy: SHAs listed
	ListedSHAs []string

	// --- ContentsMeta ---
	Meta    *domain.ContentMeta
	MetaErr error

	// --- FetchRaw ---
	Contents map[string][]byte // path -> bytes
	FetchErr map[string]error  // path -> forced failure
	// spy: paths fetched, in order
	FetchedPaths []string
}

var _ domain.RepoClient = (*SpyRepoClient)(nil)

func (c *SpyRepoClient) DefaultBranch(_ context.Context, owner, repo string) (string, error) {
	c.DefaultBranchCalls = append(c.DefaultBranchCalls, owner+"/"+repo)
	if c.DefaultBranchErr != nil {
		return "", c.DefaultBranchErr
	}
	return c.DefaultBranchName, nil
}

func (c *SpyRepoClient) BranchHead(_ context.Context, _, _, branch string) (string, error) {
	c.HeadBranches = append(c.HeadBranches, branch)
	if c.HeadErr != nil {
		return "", c.HeadErr
	}
	return c.HeadSHA, nil
}

func (c *SpyRepoClient) ListCommits(
	_ context.Context,
	_, _, _ string,
	page int,
) ([]domain.CommitInfo, int, error) {
	c.RequestedPages = append(c.RequestedPages, page)
	if c.ListCommitsErr != nil {
		return nil, 0, c.ListCommitsErr
	}
	if page < 1 || page > len(c.CommitPages) {
		return nil, 0, nil
	}
	nextPage := page + 1
	if nextPage > len(c.CommitPages) {
		nextPage = 0
	}
	return c.CommitPages[page-1], nextPage, nil
}

func (c *SpyRepoClient) ListTree(_ context.Context, _, _, sha string) ([]domain.TreeEntry, error) {
	c.ListedSHAs = append(c.ListedSHAs, sha)
	if c.ListTreeErr != nil {
		return nil, c.ListTreeErr
	}
	return c.Tree, nil
}

func (c *SpyRepoClient) ContentsMeta(
	_ context.Context,
	_, _, _, _ string,
) (*domain.ContentMeta, error) {
	return c.Meta, c.MetaErr
}

func (c *SpyRepoClient) FetchRaw(_ context.Context, _, _, _, path string) ([]byte, error) {
	c.FetchedPaths = append(c.FetchedPaths, path)
	if err, ok := c.FetchErr[path]; ok {
		return nil, err
	}
	if data, ok := c.Contents[path]; ok {
		return data, nil
	}
	return []byte("// " + path + "\n"), nil
}
