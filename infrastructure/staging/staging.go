// Package staging owns the on-disk layout of a student's staged
// submission: source files, the entry-point hint file and the sidecar
// metadata record consumed by the downstream grading harness.
package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/classops/gradefetch/domain"
)

const (
	// MetaFilename is the per-student sidecar metadata record.
	MetaFilename = ".submission_meta.json"

	// HintFilename holds the entry point's path relative to the student
	// root, one line, newline-terminated.
	HintFilename = ".main_filename"

	detailLimit = 500

	dirMode  = 0o755
	fileMode = 0o644
)

// EnsureDir creates a directory (and parents) if missing.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, dirMode); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", path, err)
	}
	return nil
}

// SafeWrite writes data to path, creating parent directories as needed.
func SafeWrite(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}

// WriteMainHint records the chosen entry point's relative path for the
// grading harness.
func WriteMainHint(studentRoot, relPath string) error {
	return SafeWrite(
		filepath.Join(studentRoot, HintFilename),
		[]byte(strings.TrimRight(relPath, " \t\r\n")+"\n"),
	)
}

// MergeMeta shallow-merges a patch into the JSON object at path: existing
// content is read if present, patch keys overwrite, unrelated prior keys
// survive.
func MergeMeta(path string, patch map[string]any) error {
	current := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt record is replaced rather than failing the student.
		if err := json.Unmarshal(data, &current); err != nil {
			logger.Warnf("Discarding unreadable sidecar %q: %v", path, err)
			current = map[string]any{}
		}
	}

	for k, v := range patch {
		current[k] = v
	}

	out, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar metadata: %w", err)
	}
	return SafeWrite(path, append(out, '\n'))
}

// Sidecar accumulates one student's metadata across the pipeline stages and
// merge-writes it once on Flush. Keys set later win over earlier ones
// within the same run; on disk the merge is non-destructive of unrelated
// prior keys.
type Sidecar struct {
	root  string
	patch map[string]any
}

// NewSidecar creates an accumulator for the student rooted at root.
func NewSidecar(root string) *Sidecar {
	return &Sidecar{root: root, patch: map[string]any{}}
}

// Set records one metadata key.
func (s *Sidecar) Set(key string, value any) {
	s.patch[key] = value
}

// Fail records a classified failure: status, reason and an optional detail
// truncated to a bounded length.
func (s *Sidecar) Fail(status domain.Status, reason, detail string) {
	s.patch["status"] = string(status)
	s.patch["failure_reason"] = reason
	if detail != "" {
		if len(detail) > detailLimit {
			detail = detail[:detailLimit]
		}
		s.patch["detail"] = detail
	}
}

// Flush merge-writes the accumulated keys into the student's sidecar file.
// Metadata write failures never break the pipeline.
func (s *Sidecar) Flush() {
	if len(s.patch) == 0 {
		return
	}
	if err := EnsureDir(s.root); err != nil {
		logger.Errorf("Sidecar flush failed: %v", err)
		return
	}
	if err := MergeMeta(filepath.Join(s.root, MetaFilename), s.patch); err != nil {
		logger.Errorf("Sidecar flush failed: %v", err)
	}
}

// PickMain disambiguates the entry point among the staged sources under a
// directory scope. A file at the conventional name directly at the scope
// root wins without content inspection; otherwise exactly one staged .c
// defining main() must exist. The boolean is false when zero or several
// candidates remain — the caller records that as a failure, never guesses.
func PickMain(studentRoot, scopePrefix string, stagedPaths []string) (string, bool) {
	prefix := strings.Trim(scopePrefix, "/")

	conventional := "main.c"
	if prefix != "" {
		conventional = prefix + "/main.c"
	}
	if info, err := os.Stat(filepath.Join(studentRoot, conventional)); err == nil && !info.IsDir() {
		return conventional, true
	}

	var candidates []string
	for _, rel := range stagedPaths {
		if !strings.HasSuffix(strings.ToLower(rel), ".c") || !domain.UnderScope(rel, prefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(studentRoot, rel))
		if err != nil {
			continue
		}
		if domain.HasMainFunction(string(data)) {
			candidates = append(candidates, rel)
		}
	}

	if len(candidates) == 1 {
		return candidates[0], true
	}
	return "", false
}
