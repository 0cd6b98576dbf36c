package domain

import "context"

// RepoClient is the single network boundary of the staging engine. All
// implementations are expected to percent-encode outbound path arguments
// per segment (decode-then-encode) and to apply the engine's retry policy
// to every call.
type RepoClient interface {
	// DefaultBranch resolves the repository's default branch name.
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)

	// BranchHead resolves the head commit SHA of a named branch.
	BranchHead(ctx context.Context, owner, repo, branch string) (string, error)

	// ListCommits returns one page of the branch's commit history,
	// newest-first, plus the next page number (0 when exhausted).
	ListCommits(ctx context.Context, owner, repo, branch string, page int) ([]CommitInfo, int, error)

	// ListTree returns the full recursive file tree at a commit,
	// blobs and trees alike; callers filter by Type.
	ListTree(ctx context.Context, owner, repo, sha string) ([]TreeEntry, error)

	// ContentsMeta probes whether path denotes a file or a directory at
	// the given ref.
	ContentsMeta(ctx context.Context, owner, repo, path, ref string) (*ContentMeta, error)

	// FetchRaw downloads the raw bytes of a path at a ref.
	FetchRaw(ctx context.Context, owner, repo, ref, path string) ([]byte, error)
}
