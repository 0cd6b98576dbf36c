package domain

import "time"

// RepoRef identifies a submission's location on GitHub: owner, repository,
// branch and an in-repository path. Branch is empty when the submitted URL
// was a bare repository root; it must be resolved to the repository's
// default branch before any commit lookup. Path is held percent-decoded
// (real Unicode text); re-encoding for outbound requests is the remote
// client's job.
type RepoRef struct {
	Owner  string
	Repo   string
	Branch string // empty = unresolved (repo-root URL)
	Path   string // may be empty (repository root)
}

// ContentKind classifies what a reference's path denotes at a commit.
type ContentKind string

const (
	ContentFile ContentKind = "file"
	ContentDir  ContentKind = "dir"
)

// ContentMeta describes the entity a reference points at, as reported by
// the contents probe. A nil ContentMeta means the probe degraded and scope
// decisions must fall back to tree-based collection.
type ContentMeta struct {
	Kind ContentKind
	Path string
	Name string
}

// TreeEntry is one entry of a recursive repository tree listing.
type TreeEntry struct {
	Path string
	Type string // "blob", "tree", ...
}

// CommitInfo carries the two commit fields the cutoff walk needs.
type CommitInfo struct {
	SHA         string
	CommittedAt time.Time // committer timestamp, UTC
}

// Status enumerates the per-student failure taxonomy persisted to sidecar
// metadata. Every failure is recorded under exactly one of these values;
// they are never collapsed into a generic error.
type Status string

const (
	StatusURLParseFailed            Status = "url_parse_failed"
	StatusDefaultBranchFailed       Status = "default_branch_failed"
	StatusCommitLookupFailed        Status = "commit_lookup_failed"
	StatusNoCommitBeforeLimit       Status = "no_commit_before_limit"
	StatusHeadLookupFailed          Status = "head_lookup_failed"
	StatusRepresentativeFetchFailed Status = "representative_fetch_failed"
	StatusTreeListFailed            Status = "tree_list_failed"
	StatusAutoPickMainFailed        Status = "auto_pick_main_failed"
	StatusNoSourcesFound            Status = "no_sources_found"
)
