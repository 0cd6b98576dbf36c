// Package application orchestrates the per-student pipeline: resolve the
// submission reference to a commit, classify the representative content,
// stage sources under the student root and record sidecar metadata for the
// downstream grading harness.
package application

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/classops/gradefetch/config"
	"github.com/classops/gradefetch/domain"
	"github.com/classops/gradefetch/infrastructure/staging"
)

// StageService drives submission resolution and staging for a whole roster,
// one student at a time.
type StageService struct {
	client domain.RepoClient
}

// NewStageService creates a service on top of the given remote client.
func NewStageService(client domain.RepoClient) *StageService {
	return &StageService{client: client}
}

// RunOptions holds runtime options for a single run.
type RunOptions struct {
	Suite   string
	Verbose bool
}

// RunResult summarizes a roster run.
type RunResult struct {
	RunID          string
	StagedStudents int
	FailedStudents int
}

// Run processes every roster entry sequentially. A single student's failure
// never aborts the run; it is recorded and the run moves on.
func (s *StageService) Run(
	ctx context.Context,
	cfg *config.Config,
	roster *domain.Roster,
	opts RunOptions,
) (*RunResult, error) {
	if opts.Verbose {
		logger.SetLevel(logger.DebugLevel)
	}

	suiteDir := cfg.SuiteDir(opts.Suite)
	if err := staging.EnsureDir(suiteDir); err != nil {
		return nil, fmt.Errorf("failed to prepare suite directory: %w", err)
	}

	var limit *time.Time
	if cfg.RespectLimit && roster.Limit != nil {
		limit = roster.Limit
		logger.Infof("Honoring submission cutoff %s", limit.Format(time.RFC3339))
	}

	result := &RunResult{RunID: newRunID()}
	logger.Infof("Starting staging run %s (%d students)", result.RunID, len(roster.Students))

	for _, student := range roster.Students {
		if student.ID == "" || student.URL == "" {
			continue
		}
		if s.processStudent(ctx, cfg, suiteDir, student, limit) {
			result.StagedStudents++
		} else {
			result.FailedStudents++
		}
	}

	logger.Infof(
		"Run %s complete: %d students staged, %d failed, suite %q under %s",
		result.RunID, result.StagedStudents, result.FailedStudents, opts.Suite, suiteDir,
	)
	return result, nil
}

// processStudent runs the full pipeline for one student and reports whether
// the student counts as successfully staged. Sidecar metadata accumulated
// along the way is flushed exactly once, on every path.
func (s *StageService) processStudent(
	ctx context.Context,
	cfg *config.Config,
	suiteDir string,
	student domain.Student,
	limit *time.Time,
) bool {
	studentRoot := filepath.Join(suiteDir, student.ID)
	sidecar := staging.NewSidecar(studentRoot)
	sidecar.Set("submitted_url", student.URL)
	defer sidecar.Flush()

	ref, err := domain.ParseSubmissionURL(student.URL)
	if err != nil {
		s.fail(student.ID, sidecar, domain.StatusURLParseFailed,
			"Unrecognized or unsupported GitHub URL", err)
		return false
	}
	logger.Debugf("[%s] Parsed %s/%s branch=%q path=%q", student.ID, ref.Owner, ref.Repo, ref.Branch, ref.Path)

	if ref.Branch == "" {
		branch, branchErr := s.client.DefaultBranch(ctx, ref.Owner, ref.Repo)
		if branchErr != nil {
			s.fail(student.ID, sidecar, domain.StatusDefaultBranchFailed,
				"Could not resolve default branch", branchErr)
			return false
		}
		ref.Branch = branch
		logger.Infof("[%s] Using default branch %q (repo root URL)", student.ID, branch)
	}

	sha, ok := s.resolveCommit(ctx, student.ID, sidecar, ref, limit)
	if !ok {
		return false
	}

	return s.stageStudent(ctx, cfg, studentRoot, student, ref, sha, sidecar)
}

// resolveCommit turns the reference into a concrete commit SHA, honoring
// the cutoff when one is configured. The boolean is false when the student
// cannot proceed; the sidecar then already carries the status.
func (s *StageService) resolveCommit(
	ctx context.Context,
	studentID string,
	sidecar *staging.Sidecar,
	ref domain.RepoRef,
	limit *time.Time,
) (string, bool) {
	if limit == nil {
		sha, err := s.client.BranchHead(ctx, ref.Owner, ref.Repo, ref.Branch)
		if err != nil {
			s.fail(studentID, sidecar, domain.StatusHeadLookupFailed,
				"Could not resolve branch HEAD", err)
			return "", false
		}
		logger.Infof("[%s] Using branch HEAD %s", studentID, sha)
		return sha, true
	}

	sha, err := s.commitBefore(ctx, ref, *limit)
	if err != nil {
		s.fail(studentID, sidecar, domain.StatusCommitLookupFailed,
			"Could not walk commit history", err)
		return "", false
	}
	if sha == "" {
		// Distinct, non-exceptional outcome: the history simply has no
		// commit at or before the cutoff.
		s.fail(studentID, sidecar, domain.StatusNoCommitBeforeLimit,
			fmt.Sprintf("No commit on %q at or before %s", ref.Branch, limit.Format(time.RFC3339)), nil)
		return "", false
	}
	logger.Infof("[%s] Using commit %s (<= %s)", studentID, sha, limit.Format(time.RFC3339))
	return sha, true
}

// commitBefore walks the branch history newest-first, page by page, and
// returns the first commit whose committer timestamp is at or before the
// cutoff (inclusive). An empty SHA with a nil error means the pagination
// was exhausted without a qualifying commit.
func (s *StageService) commitBefore(
	ctx context.Context,
	ref domain.RepoRef,
	limit time.Time,
) (string, error) {
	page := 1
	for {
		commits, nextPage, err := s.client.ListCommits(ctx, ref.Owner, ref.Repo, ref.Branch, page)
		if err != nil {
			return "", err
		}
		if len(commits) == 0 {
			return "", nil
		}
		for _, commit := range commits {
			if !commit.CommittedAt.After(limit) {
				return commit.SHA, nil
			}
		}
		if nextPage == 0 {
			return "", nil
		}
		page = nextPage
	}
}

// stageStudent performs steps 2-7 of the pipeline: representative handling,
// scoped tree collection, entry-point disambiguation and bookkeeping.
func (s *StageService) stageStudent(
	ctx context.Context,
	cfg *config.Config,
	studentRoot string,
	student domain.Student,
	ref domain.RepoRef,
	sha string,
	sidecar *staging.Sidecar,
) bool {
	if err := staging.EnsureDir(studentRoot); err != nil {
		logger.Errorf("[%s] %v", student.ID, err)
		return false
	}

	// Probe failures degrade to "no representative metadata"; collection
	// then relies on the tree alone.
	repMeta, _ := s.client.ContentsMeta(ctx, ref.Owner, ref.Repo, ref.Path, sha)

	repSaved := false
	skipPaths := map[string]bool{}

	if repMeta != nil && repMeta.Kind == domain.ContentFile {
		repSaved = s.stageRepresentative(ctx, cfg, studentRoot, student, ref, sha, repMeta, sidecar, skipPaths)
	}

	// A directory (or repo-root) representative forces collection scope to
	// that directory, overriding the run-level scope setting.
	dirScope := ""
	hasDirScope := false
	switch {
	case repMeta != nil && repMeta.Kind == domain.ContentDir:
		dirScope = strings.Trim(ref.Path, "/")
		hasDirScope = true
	case repMeta == nil && ref.Path == "":
		hasDirScope = true // bare repository root is an implicit directory
	}

	paths := s.collectSourcePaths(ctx, cfg, student, ref, sha, dirScope, hasDirScope, sidecar)

	stagedCount := 0
	for _, p := range paths {
		if skipPaths[p] {
			continue
		}
		data, err := s.client.FetchRaw(ctx, ref.Owner, ref.Repo, sha, p)
		if err != nil {
			// Recovered locally: one bad file never fails the student.
			logger.Warnf("[%s] fetch failed for %s: %v", student.ID, p, err)
			continue
		}

		dst := filepath.Join(studentRoot, filepath.FromSlash(p))
		if cfg.Flatten {
			dst = filepath.Join(studentRoot, path.Base(p))
		}
		if err := staging.SafeWrite(dst, data); err != nil {
			logger.Warnf("[%s] %v", student.ID, err)
			continue
		}
		stagedCount++
	}

	if hasDirScope {
		s.pickDirectoryMain(studentRoot, student, repMeta, dirScope, paths, sidecar)
	}

	if !repSaved && len(paths) == 0 {
		s.fail(student.ID, sidecar, domain.StatusNoSourcesFound,
			fmt.Sprintf("No representative file or .c/.h found at commit %s", sha), nil)
		return false
	}

	logger.Infof("[%s] staged %d source files under %s", student.ID, stagedCount, studentRoot)
	return true
}

// stageRepresentative handles a file representative: either only a hint
// (already a conventionally-named source, no forced rename) or a fetched
// copy at the student root under the conventional entry-point name.
func (s *StageService) stageRepresentative(
	ctx context.Context,
	cfg *config.Config,
	studentRoot string,
	student domain.Student,
	ref domain.RepoRef,
	sha string,
	repMeta *domain.ContentMeta,
	sidecar *staging.Sidecar,
	skipPaths map[string]bool,
) bool {
	repRel := repMeta.Path
	repBase := path.Base(repRel)
	repIsC := strings.HasSuffix(strings.ToLower(repBase), ".c")

	if repIsC && !cfg.ForceRename {
		// Already a compilable source; the tree staging will place it at
		// its in-tree path, so only point the harness at it.
		logger.Infof("[%s] representative is a .c source; not duplicating as %s", student.ID, cfg.RenameTo)
		if err := staging.WriteMainHint(studentRoot, repRel); err != nil {
			logger.Warnf("[%s] %v", student.ID, err)
		}
		sidecar.Set("submitted_kind", "file")
		sidecar.Set("submitted_path", repRel)
		return false
	}

	data, err := s.client.FetchRaw(ctx, ref.Owner, ref.Repo, sha, repRel)
	if err != nil {
		s.fail(student.ID, sidecar, domain.StatusRepresentativeFetchFailed,
			fmt.Sprintf("Failed to fetch representative path %q", repRel), err)
		return false
	}

	// Always duplicated under the conventional name so the harness can
	// compile without path lookups.
	if err := staging.SafeWrite(filepath.Join(studentRoot, cfg.RenameTo), data); err != nil {
		s.fail(student.ID, sidecar, domain.StatusRepresentativeFetchFailed,
			fmt.Sprintf("Failed to save representative as %q", cfg.RenameTo), err)
		return false
	}
	if err := staging.WriteMainHint(studentRoot, cfg.RenameTo); err != nil {
		logger.Warnf("[%s] %v", student.ID, err)
	}

	sidecar.Set("submitted_kind", "file")
	sidecar.Set("submitted_path", repRel)
	sidecar.Set("saved_as", cfg.RenameTo)

	keptOriginal := false
	if cfg.KeepOriginal && !repIsC && !strings.EqualFold(repBase, cfg.RenameTo) {
		orig := filepath.Join(studentRoot, repBase)
		if err := staging.SafeWrite(orig, data); err != nil {
			logger.Warnf("[%s] %v", student.ID, err)
		} else {
			keptOriginal = true
		}
	}

	// Forced rename of a .c: its tree path is excluded from collection so
	// the same file never lands under two names.
	if repIsC && cfg.ForceRename {
		skipPaths[repRel] = true
	}

	suffix := ""
	if keptOriginal {
		suffix = " (original kept)"
	}
	logger.Infof("[%s] representative saved as %s%s", student.ID, cfg.RenameTo, suffix)
	return true
}

// collectSourcePaths lists the repository tree and returns the .c/.h paths
// inside the effective collection scope. Tree-listing failure is recorded
// but leaves the student recoverable via the representative file.
func (s *StageService) collectSourcePaths(
	ctx context.Context,
	cfg *config.Config,
	student domain.Student,
	ref domain.RepoRef,
	sha string,
	dirScope string,
	hasDirScope bool,
	sidecar *staging.Sidecar,
) []string {
	tree, err := s.client.ListTree(ctx, ref.Owner, ref.Repo, sha)
	if err != nil {
		s.fail(student.ID, sidecar, domain.StatusTreeListFailed,
			"Failed to enumerate repository tree", err)
		return nil
	}

	scopePrefix := ""
	switch {
	case hasDirScope:
		scopePrefix = dirScope
	case cfg.Scope == config.ScopeDir && ref.Path != "":
		scopePrefix = parentDir(ref.Path)
	}

	return domain.FilterSourcePaths(tree, scopePrefix)
}

// pickDirectoryMain runs entry-point disambiguation for directory and
// repo-root scopes and records the outcome. Ambiguity is an explicit
// failure, never a guess.
func (s *StageService) pickDirectoryMain(
	studentRoot string,
	student domain.Student,
	repMeta *domain.ContentMeta,
	dirScope string,
	paths []string,
	sidecar *staging.Sidecar,
) {
	picked, ok := staging.PickMain(studentRoot, dirScope, paths)
	if !ok {
		s.fail(student.ID, sidecar, domain.StatusAutoPickMainFailed,
			"Could not determine a unique main() under directory scope", nil)
		return
	}

	if err := staging.WriteMainHint(studentRoot, picked); err != nil {
		logger.Warnf("[%s] %v", student.ID, err)
	}

	kind := "repo"
	if repMeta != nil && repMeta.Kind == domain.ContentDir {
		kind = "dir"
	}
	sidecar.Set("submitted_kind", kind)
	sidecar.Set("auto_picked_main", picked)
	logger.Infof("[%s] directory-scope main selected: %s", student.ID, picked)
}

// fail records a classified per-student failure in the sidecar and the log.
func (s *StageService) fail(
	studentID string,
	sidecar *staging.Sidecar,
	status domain.Status,
	reason string,
	err error,
) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	sidecar.Fail(status, reason, detail)
	logger.Errorf("[%s] %s: %s", studentID, status, reason)
}

// parentDir returns the containing directory of a repository path, or ""
// for a top-level entry.
func parentDir(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// newRunID returns a time-ordered identifier for one staging run.
func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}
