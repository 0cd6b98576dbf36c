package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classops/gradefetch/application"
	"github.com/classops/gradefetch/config"
	"github.com/classops/gradefetch/domain"
	"github.com/classops/gradefetch/infrastructure/staging"
	testdoubles "github.com/classops/gradefetch/test"
)

// --- helpers ---

func buildConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataRoot: t.TempDir(),
		RenameTo: "main.c",
		Scope:    config.ScopeRepo,
	}
}

func singleRoster(url string) *domain.Roster {
	return &domain.Roster{Students: []domain.Student{{ID: "s001", URL: url}}}
}

func studentRoot(cfg *config.Config) string {
	return filepath.Join(cfg.SuiteDir("hw1"), "s001")
}

func readSidecar(t *testing.T, cfg *config.Config) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(studentRoot(cfg), staging.MetaFilename))
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}

func readHint(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(studentRoot(cfg), staging.HintFilename))
	require.NoError(t, err)
	return string(data)
}

func run(
	t *testing.T,
	cfg *config.Config,
	client *testdoubles.SpyRepoClient,
	roster *domain.Roster,
) *application.RunResult {
	t.Helper()
	svc := application.NewStageService(client)
	result, err := svc.Run(context.Background(), cfg, roster, application.RunOptions{Suite: "hw1"})
	require.NoError(t, err)
	return result
}

// --- tests ---

func TestStageService_Run(t *testing.T) {
	t.Parallel()

	t.Run("should stage a whole repository from a blob URL without duplicating the .c representative", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Meta:    &domain.ContentMeta{Kind: domain.ContentFile, Path: "src/solution.c", Name: "solution.c"},
			Tree: []domain.TreeEntry{
				{Path: "README.md", Type: "blob"},
				{Path: "src/solution.c", Type: "blob"},
				{Path: "src/util.h", Type: "blob"},
			},
			Contents: map[string][]byte{
				"src/solution.c": []byte("int main(void){return 0;}\n"),
				"src/util.h":     []byte("#pragma once\n"),
			},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/blob/main/src/solution.c"))

		// then
		assert.Equal(t, 1, result.StagedStudents)
		assert.Zero(t, result.FailedStudents)
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "src", "solution.c"))
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "src", "util.h"))
		assert.NoFileExists(t, filepath.Join(studentRoot(cfg), "main.c"),
			"a conventional-free .c representative must not be duplicated at the root")
		assert.Equal(t, "src/solution.c\n", readHint(t, cfg))

		meta := readSidecar(t, cfg)
		assert.Equal(t, "https://github.com/alice/hw1/blob/main/src/solution.c", meta["submitted_url"])
		assert.Equal(t, "file", meta["submitted_kind"])
		assert.NotContains(t, meta, "status")
	})

	t.Run("should duplicate a non-source representative under the conventional name", func(t *testing.T) {
		t.Parallel()

		// given: the student submitted a .txt
		cfg := buildConfig(t)
		cfg.KeepOriginal = true
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Meta:    &domain.ContentMeta{Kind: domain.ContentFile, Path: "hw/answer.txt", Name: "answer.txt"},
			Tree:    []domain.TreeEntry{{Path: "hw/answer.txt", Type: "blob"}},
			Contents: map[string][]byte{
				"hw/answer.txt": []byte("int main(void){return 0;}\n"),
			},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/blob/main/hw/answer.txt"))

		// then
		assert.Equal(t, 1, result.StagedStudents)
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "main.c"))
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "answer.txt"), "keep-original saves the original basename")
		assert.Equal(t, "main.c\n", readHint(t, cfg))

		meta := readSidecar(t, cfg)
		assert.Equal(t, "main.c", meta["saved_as"])
		assert.Equal(t, "hw/answer.txt", meta["submitted_path"])
	})

	t.Run("should never stage the representative under two names when force-rename is on", func(t *testing.T) {
		t.Parallel()

		// given: representative is src/solution.c and force-rename duplicates it at the root
		cfg := buildConfig(t)
		cfg.ForceRename = true
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Meta:    &domain.ContentMeta{Kind: domain.ContentFile, Path: "src/solution.c", Name: "solution.c"},
			Tree: []domain.TreeEntry{
				{Path: "src/solution.c", Type: "blob"},
				{Path: "src/util.c", Type: "blob"},
			},
			Contents: map[string][]byte{
				"src/solution.c": []byte("int main(void){return 0;}\n"),
				"src/util.c":     []byte("int helper(void){return 1;}\n"),
			},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/blob/main/src/solution.c"))

		// then
		assert.Equal(t, 1, result.StagedStudents)
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "main.c"))
		assert.NoFileExists(t, filepath.Join(studentRoot(cfg), "src", "solution.c"),
			"the renamed representative's tree path is skipped during collection")
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "src", "util.c"))
	})

	t.Run("should recover a single file fetch failure and stage the rest", func(t *testing.T) {
		t.Parallel()

		// given: three tree sources, one of them failing
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Tree: []domain.TreeEntry{
				{Path: "a.c", Type: "blob"},
				{Path: "b.c", Type: "blob"},
				{Path: "c.h", Type: "blob"},
			},
			FetchErr: map[string]error{"b.c": errors.New("boom")},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/tree/main"))

		// then: N-1 files staged, student still successful
		assert.Equal(t, 1, result.StagedStudents)
		assert.Zero(t, result.FailedStudents)
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "a.c"))
		assert.NoFileExists(t, filepath.Join(studentRoot(cfg), "b.c"))
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "c.h"))
	})

	t.Run("should record url_parse_failed for an unrecognized URL", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{}

		// when
		result := run(t, cfg, client, singleRoster("https://example.com/not-github"))

		// then
		assert.Zero(t, result.StagedStudents)
		assert.Equal(t, 1, result.FailedStudents)
		meta := readSidecar(t, cfg)
		assert.Equal(t, "url_parse_failed", meta["status"])
		assert.Equal(t, "https://example.com/not-github", meta["submitted_url"])
	})

	t.Run("should record default_branch_failed distinctly for repo-root URLs", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{DefaultBranchErr: errors.New("api down")}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1"))

		// then
		assert.Equal(t, 1, result.FailedStudents)
		assert.Equal(t, "default_branch_failed", readSidecar(t, cfg)["status"])
	})

	t.Run("should record head_lookup_failed for a named branch", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{HeadErr: errors.New("no such branch")}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/tree/ghost"))

		// then
		assert.Equal(t, 1, result.FailedStudents)
		assert.Equal(t, "head_lookup_failed", readSidecar(t, cfg)["status"])
	})

	t.Run("should skip roster entries missing an id or url", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{}
		roster := &domain.Roster{Students: []domain.Student{
			{ID: "", URL: "https://github.com/a/b"},
			{ID: "s009", URL: ""},
		}}

		// when
		result := run(t, cfg, client, roster)

		// then
		assert.Zero(t, result.StagedStudents)
		assert.Zero(t, result.FailedStudents)
	})

	t.Run("should record no_sources_found when nothing was staged", func(t *testing.T) {
		t.Parallel()

		// given: tree holds no C sources
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Tree:    []domain.TreeEntry{{Path: "README.md", Type: "blob"}},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/tree/main"))

		// then
		assert.Equal(t, 1, result.FailedStudents)
		assert.Equal(t, "no_sources_found", readSidecar(t, cfg)["status"])
	})
}

func TestStageService_Cutoff(t *testing.T) {
	t.Parallel()

	limit := time.Date(2026, 6, 1, 23, 59, 59, 0, time.UTC)

	cutoffRoster := func(url string) *domain.Roster {
		r := singleRoster(url)
		r.Limit = &limit
		return r
	}

	t.Run("should select a commit whose timestamp equals the cutoff", func(t *testing.T) {
		t.Parallel()

		// given: newest-first history around the cutoff
		cfg := buildConfig(t)
		cfg.RespectLimit = true
		client := &testdoubles.SpyRepoClient{
			CommitPages: [][]domain.CommitInfo{{
				{SHA: "late", CommittedAt: limit.Add(time.Hour)},
				{SHA: "exact", CommittedAt: limit},
				{SHA: "early", CommittedAt: limit.Add(-time.Hour)},
			}},
			Tree:     []domain.TreeEntry{{Path: "main.c", Type: "blob"}},
			Contents: map[string][]byte{"main.c": []byte("int main(void){return 0;}\n")},
		}

		// when
		result := run(t, cfg, client, cutoffRoster("https://github.com/alice/hw1/tree/main"))

		// then: inclusive comparison picks the exact commit, not an earlier one
		assert.Equal(t, 1, result.StagedStudents)
		require.NotEmpty(t, client.ListedSHAs)
		assert.Equal(t, "exact", client.ListedSHAs[0])
	})

	t.Run("should follow pagination to older pages", func(t *testing.T) {
		t.Parallel()

		// given: page 1 is entirely after the cutoff
		cfg := buildConfig(t)
		cfg.RespectLimit = true
		client := &testdoubles.SpyRepoClient{
			CommitPages: [][]domain.CommitInfo{
				{{SHA: "newest", CommittedAt: limit.Add(2 * time.Hour)}},
				{{SHA: "qualifying", CommittedAt: limit.Add(-time.Minute)}},
			},
			Tree:     []domain.TreeEntry{{Path: "main.c", Type: "blob"}},
			Contents: map[string][]byte{"main.c": []byte("int main(void){return 0;}\n")},
		}

		// when
		run(t, cfg, client, cutoffRoster("https://github.com/alice/hw1/tree/main"))

		// then
		assert.Equal(t, []int{1, 2}, client.RequestedPages)
		require.NotEmpty(t, client.ListedSHAs)
		assert.Equal(t, "qualifying", client.ListedSHAs[0])
	})

	t.Run("should record no_commit_before_limit as a distinct non-exceptional outcome", func(t *testing.T) {
		t.Parallel()

		// given: every commit is after the cutoff
		cfg := buildConfig(t)
		cfg.RespectLimit = true
		client := &testdoubles.SpyRepoClient{
			CommitPages: [][]domain.CommitInfo{
				{{SHA: "newest", CommittedAt: limit.Add(time.Hour)}},
			},
		}

		// when
		result := run(t, cfg, client, cutoffRoster("https://github.com/alice/hw1/tree/main"))

		// then: zero files staged, status recorded, run continues normally
		assert.Equal(t, 1, result.FailedStudents)
		assert.Equal(t, "no_commit_before_limit", readSidecar(t, cfg)["status"])
		assert.Empty(t, client.FetchedPaths)
	})

	t.Run("should record commit_lookup_failed when the history walk errors", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		cfg.RespectLimit = true
		client := &testdoubles.SpyRepoClient{ListCommitsErr: errors.New("api down")}

		// when
		result := run(t, cfg, client, cutoffRoster("https://github.com/alice/hw1/tree/main"))

		// then
		assert.Equal(t, 1, result.FailedStudents)
		assert.Equal(t, "commit_lookup_failed", readSidecar(t, cfg)["status"])
	})

	t.Run("should ignore the roster cutoff unless respect-limit is set", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Tree:    []domain.TreeEntry{{Path: "main.c", Type: "blob"}},
		}

		// when
		result := run(t, cfg, client, cutoffRoster("https://github.com/alice/hw1/tree/main"))

		// then: branch head used, no history walked
		assert.Equal(t, 1, result.StagedStudents)
		assert.Empty(t, client.RequestedPages)
		assert.Equal(t, []string{"main"}, client.HeadBranches)
	})
}

func TestStageService_DirectoryScope(t *testing.T) {
	t.Parallel()

	t.Run("should auto-pick the unique main under a directory submission", func(t *testing.T) {
		t.Parallel()

		// given: a tree URL pointing at a sub-directory
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Meta:    &domain.ContentMeta{Kind: domain.ContentDir, Path: "hw3", Name: "hw3"},
			Tree: []domain.TreeEntry{
				{Path: "hw3/solution.c", Type: "blob"},
				{Path: "hw3/util.c", Type: "blob"},
				{Path: "other/also.c", Type: "blob"},
			},
			Contents: map[string][]byte{
				"hw3/solution.c": []byte("int main(void){return 0;}\n"),
				"hw3/util.c":     []byte("int helper(void){return 1;}\n"),
				"other/also.c":   []byte("int main(void){return 9;}\n"),
			},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/tree/main/hw3"))

		// then: scope forced to the directory; files outside it never staged
		assert.Equal(t, 1, result.StagedStudents)
		assert.NoFileExists(t, filepath.Join(studentRoot(cfg), "other", "also.c"))
		assert.Equal(t, "hw3/solution.c\n", readHint(t, cfg))

		meta := readSidecar(t, cfg)
		assert.Equal(t, "dir", meta["submitted_kind"])
		assert.Equal(t, "hw3/solution.c", meta["auto_picked_main"])
	})

	t.Run("should treat a bare repository root as an implicit directory", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			DefaultBranchName: "main",
			HeadSHA:           "head1",
			Tree:              []domain.TreeEntry{{Path: "prog.c", Type: "blob"}},
			Contents: map[string][]byte{
				"prog.c": []byte("int main(void){return 0;}\n"),
			},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1"))

		// then
		assert.Equal(t, 1, result.StagedStudents)
		assert.Equal(t, []string{"alice/hw1"}, client.DefaultBranchCalls)

		meta := readSidecar(t, cfg)
		assert.Equal(t, "repo", meta["submitted_kind"])
		assert.Equal(t, "prog.c", meta["auto_picked_main"])
	})

	t.Run("should prefer a conventional main.c at the scope root regardless of content", func(t *testing.T) {
		t.Parallel()

		// given: main.c has no main() but still wins
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			DefaultBranchName: "main",
			HeadSHA:           "head1",
			Tree: []domain.TreeEntry{
				{Path: "main.c", Type: "blob"},
				{Path: "real.c", Type: "blob"},
			},
			Contents: map[string][]byte{
				"main.c": []byte("/* helpers only */\n"),
				"real.c": []byte("int main(void){return 0;}\n"),
			},
		}

		// when
		run(t, cfg, client, singleRoster("https://github.com/alice/hw1"))

		// then
		assert.Equal(t, "main.c\n", readHint(t, cfg))
		assert.Equal(t, "main.c", readSidecar(t, cfg)["auto_picked_main"])
	})

	t.Run("should fail with auto_pick_main_failed on ambiguity instead of guessing", func(t *testing.T) {
		t.Parallel()

		// given: two mains, no conventional file
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			DefaultBranchName: "main",
			HeadSHA:           "head1",
			Tree: []domain.TreeEntry{
				{Path: "a.c", Type: "blob"},
				{Path: "b.c", Type: "blob"},
			},
			Contents: map[string][]byte{
				"a.c": []byte("int main(void){return 0;}\n"),
				"b.c": []byte("int main(void){return 1;}\n"),
			},
		}

		// when
		run(t, cfg, client, singleRoster("https://github.com/alice/hw1"))

		// then: files are staged, the pick is an explicit failure
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "a.c"))
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "b.c"))
		assert.Equal(t, "auto_pick_main_failed", readSidecar(t, cfg)["status"])
	})

	t.Run("should fall back to tree collection when the contents probe degrades", func(t *testing.T) {
		t.Parallel()

		// given: probe returns no metadata for a file path
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Meta:    nil,
			Tree:    []domain.TreeEntry{{Path: "src/solution.c", Type: "blob"}},
			Contents: map[string][]byte{
				"src/solution.c": []byte("int main(void){return 0;}\n"),
			},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/blob/main/src/solution.c"))

		// then: staged from the tree alone, no representative handling
		assert.Equal(t, 1, result.StagedStudents)
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "src", "solution.c"))
	})

	t.Run("should scope collection to the representative's directory in dir mode", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		cfg.Scope = config.ScopeDir
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Meta:    &domain.ContentMeta{Kind: domain.ContentFile, Path: "hw/sol.c", Name: "sol.c"},
			Tree: []domain.TreeEntry{
				{Path: "hw/sol.c", Type: "blob"},
				{Path: "unrelated/extra.c", Type: "blob"},
			},
			Contents: map[string][]byte{
				"hw/sol.c": []byte("int main(void){return 0;}\n"),
			},
		}

		// when
		run(t, cfg, client, singleRoster("https://github.com/alice/hw1/blob/main/hw/sol.c"))

		// then
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "hw", "sol.c"))
		assert.NoFileExists(t, filepath.Join(studentRoot(cfg), "unrelated", "extra.c"))
	})

	t.Run("should flatten staged files to the student root when configured", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		cfg.Flatten = true
		client := &testdoubles.SpyRepoClient{
			HeadSHA: "head1",
			Tree:    []domain.TreeEntry{{Path: "deep/nested/prog.c", Type: "blob"}},
			Contents: map[string][]byte{
				"deep/nested/prog.c": []byte("int main(void){return 0;}\n"),
			},
		}

		// when
		run(t, cfg, client, singleRoster("https://github.com/alice/hw1/tree/main"))

		// then
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "prog.c"))
		assert.NoFileExists(t, filepath.Join(studentRoot(cfg), "deep", "nested", "prog.c"))
	})

	t.Run("should keep the student staged when only the tree listing fails but the representative was saved", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := buildConfig(t)
		client := &testdoubles.SpyRepoClient{
			HeadSHA:     "head1",
			Meta:        &domain.ContentMeta{Kind: domain.ContentFile, Path: "notes.txt", Name: "notes.txt"},
			ListTreeErr: errors.New("tree api down"),
			Contents: map[string][]byte{
				"notes.txt": []byte("int main(void){return 0;}\n"),
			},
		}

		// when
		result := run(t, cfg, client, singleRoster("https://github.com/alice/hw1/blob/main/notes.txt"))

		// then: failure recorded, student still usable via the saved main.c
		assert.Equal(t, 1, result.StagedStudents)
		assert.FileExists(t, filepath.Join(studentRoot(cfg), "main.c"))
		assert.Equal(t, "tree_list_failed", readSidecar(t, cfg)["status"])
	})
}
