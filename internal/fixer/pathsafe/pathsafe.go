// Package pathsafe implements the path sanitization contract shared by the
// Fixer Adapter and the Task Runner's APPLY_PATCH step.
package pathsafe

import (
	"os"
	"path/filepath"
	"strings"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
)

// Resolve sanitizes a relative path supplied by an external fixer against
// repoRoot, returning the absolute on-disk path to write to. It runs a
// three-step algorithm: normalize, locate via suffix candidates, then
// verify strict containment.
func Resolve(repoRoot, rawPath string) (string, error) {
	normalized, err := normalize(rawPath)
	if err != nil {
		return "", err
	}

	root, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryPathViolation, "pathsafe: resolve repo root failed").Build()
	}

	candidate := filepath.Join(root, normalized)
	if !exists(candidate) {
		found := false
		for _, suffix := range suffixCandidates(normalized) {
			c := filepath.Join(root, suffix)
			if exists(c) {
				candidate = c
				found = true
				break
			}
		}
		if !found {
			return "", foundationerrors.PathViolationError("pathsafe: no matching candidate path found in repository").
				WithContext("path", rawPath).Build()
		}
	}

	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryPathViolation, "pathsafe: resolve candidate failed").Build()
	}
	if err := assertContained(root, abs); err != nil {
		return "", err
	}
	return abs, nil
}

// normalize applies step 1: backslashes to "/", strip leading
// "./", strip a "repo/" prefix (or anything before "/repo/"), reject a
// leading "/".
func normalize(rawPath string) (string, error) {
	p := strings.ReplaceAll(rawPath, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", foundationerrors.PathViolationError("pathsafe: absolute path rejected").
			WithContext("path", rawPath).Build()
	}
	if idx := strings.Index(p, "/repo/"); idx >= 0 {
		p = p[idx+len("/repo/"):]
	} else {
		p = strings.TrimPrefix(p, "repo/")
	}
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", foundationerrors.PathViolationError("pathsafe: empty path after normalization").
			WithContext("path", rawPath).Build()
	}
	return p, nil
}

// suffixCandidates yields progressively shorter suffixes of a normalized
// path by dropping leading components (step 2).
func suffixCandidates(normalized string) []string {
	parts := strings.Split(normalized, "/")
	var out []string
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[i:], "/"))
	}
	return out
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// assertContained enforces step 3's invariant: abs(join(repo_root, p))
// must strictly start with repo_root+separator.
func assertContained(root, abs string) error {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return foundationerrors.PathViolationError("pathsafe: path escapes repository root").
			WithContext("path", abs).WithContext("root", root).Build()
	}
	return nil
}
