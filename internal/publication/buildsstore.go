package publication

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BuildsStore persists the built-catalog blob of §4.5 step 5: "serialize
// the built catalog ... as a single content-addressed blob identified by
// the publication id; store under the build-artifact URL" (§3 "Object
// store": "built catalogs persisted under ${builds_root}/${publication_id}").
type BuildsStore interface {
	Put(ctx context.Context, pubID int64, blob []byte) error
}

// FileBuildsStore is a local-filesystem BuildsStore, standing in for the
// teacher's cloud.google.com/go/storage-backed object store (go/flow/builds.go)
// since this repo has no cloud bucket to write to; see DESIGN.md's dropped-
// dependency note for cloud.google.com/go/storage.
type FileBuildsStore struct {
	// Root is the builds_root directory; each publication's blob is
	// written to Root/<publication_id>.
	Root string
}

func (f FileBuildsStore) Put(ctx context.Context, pubID int64, blob []byte) error {
	if err := os.MkdirAll(f.Root, 0o755); err != nil {
		return fmt.Errorf("creating builds root %q: %w", f.Root, err)
	}
	var path = filepath.Join(f.Root, fmt.Sprintf("%d", pubID))
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("writing build artifact %q: %w", path, err)
	}
	return nil
}
