// Package preflight implements the PREFLIGHT_CHECK step: a
// language-dispatched syntactic validator run against a repository's
// working tree after a fix is applied.
package preflight

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
)

// Check runs the language-appropriate syntactic validator over repoDir,
// dispatching on the presence of a go.mod (go vet) or any *.py file
// (python3 -m compileall), and otherwise passing trivially.
func Check(ctx context.Context, repoDir string) error {
	switch {
	case fileExists(filepath.Join(repoDir, "go.mod")):
		return runCommand(ctx, repoDir, "go", "vet", "./...")
	case hasPythonFiles(repoDir):
		return runCommand(ctx, repoDir, "python3", "-m", "compileall", ".")
	default:
		return nil
	}
}

func runCommand(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return foundationerrors.ExternalCommandError("preflight: syntactic validation failed").
			WithContext("command", name).WithContext("output", string(out)).
			WithContext("exit_error", err.Error()).Build()
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func hasPythonFiles(root string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return nil
		}
		if !d.IsDir() && filepath.Ext(path) == ".py" {
			found = true
		}
		return nil
	})
	return found
}
