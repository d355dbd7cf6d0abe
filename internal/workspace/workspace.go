// Package workspace implements the Workspace Manager: exclusive,
// path-bounded allocation of per-incident working directories and their
// eventual release.
package workspace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/retry"
)

var slugInvalidRe = regexp.MustCompile(`[^a-z0-9]+`)

// MaxSlugLen bounds the sanitized repo slug component of a workspace name.
const MaxSlugLen = 32

// Manager allocates and releases exclusive working directories under Root.
type Manager struct {
	Root          string
	ReleasePolicy retry.Policy
}

// New constructs a Manager rooted at root. root must already exist; it is
// never created implicitly.
func New(root string) *Manager {
	return &Manager{Root: root, ReleasePolicy: retry.NewPolicy(retry.BackoffFixed, 200*time.Millisecond, time.Second, 3)}
}

// Workspace is one allocated directory, ready for a clone.
type Workspace struct {
	Path string
	Slug string
}

// Allocate reserves a new exclusive directory for repoURL under m.Root,
// named "<slug>-ws-<ts>-<short>". It fails if the resulting
// path already exists.
func (m *Manager) Allocate(repoURL string) (*Workspace, error) {
	slug := repoSlug(repoURL)
	short, err := randomHex(4)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryWorkspace, "workspace: id generation failed").Build()
	}
	name := fmt.Sprintf("%s-ws-%d-%s", slug, time.Now().Unix(), short)
	full := filepath.Join(m.Root, name)

	if err := os.Mkdir(full, 0o750); err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryWorkspace, "workspace: exclusive allocation failed").
			WithContext("path", full).Build()
	}
	return &Workspace{Path: full, Slug: slug}, nil
}

// Release removes ws.Path, retrying on transient permission errors and
// refusing to act on any path that does not lie strictly under m.Root.
func (m *Manager) Release(ws *Workspace) error {
	if err := m.assertContained(ws.Path); err != nil {
		return err
	}
	return m.ReleasePolicy.Do(context.Background(), isTransientFSError, func() error {
		return os.RemoveAll(ws.Path)
	})
}

// assertContained rejects any path that escapes m.Root, even via ".."
// traversal in a caller-supplied value.
func (m *Manager) assertContained(path string) error {
	root, err := filepath.Abs(m.Root)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryWorkspace, "workspace: root resolution failed").Build()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryWorkspace, "workspace: path resolution failed").Build()
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return foundationerrors.PathViolationError("workspace: release path escapes root").
			WithContext("path", path).WithContext("root", m.Root).Build()
	}
	return nil
}

func isTransientFSError(err error) bool {
	return err != nil && os.IsPermission(err)
}

// repoSlug derives a filesystem-safe, bounded slug from a repo URL: take the
// last path segment, strip a trailing ".git", lowercase, collapse
// non-alphanumerics to "-", trim to MaxSlugLen.
func repoSlug(repoURL string) string {
	base := repoURL
	if i := strings.LastIndexAny(base, "/:"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".git")
	base = strings.ToLower(base)
	base = slugInvalidRe.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "repo"
	}
	if len(base) > MaxSlugLen {
		base = base[:MaxSlugLen]
	}
	return base
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
