// Package detailregistry implements C1, the content-addressed blob registry
// (CID → bytes) mirrored from a filesystem directory on startup, backed by
// the Store plus a filesystem sync-on-boot law.
package detailregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store"
)

// Registry is the daemon's in-memory cache over the Store's detail_files
// table, kept in sync with a filesystem directory at boot (§4.1).
type Registry struct {
	store   store.Store
	dataDir string

	mu    sync.RWMutex
	cache map[string][]byte
}

// New builds a Registry backed by st, with dataDir as the detail-files root
// (conventionally "data/details").
func New(st store.Store, dataDir string) *Registry {
	return &Registry{store: st, dataDir: dataDir, cache: make(map[string][]byte)}
}

// CID computes the daemon's content identifier for bytes: a hex-encoded
// SHA-256 digest. ChainClient.GenerateCID MUST agree with this function for
// the on-chain detailsLink comparisons in §4.3/§4.6 to succeed.
func CID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SyncFromDisk enumerates every regular file under dataDir recursively,
// computes each content's CID, and calls Store.SyncDetailFiles so the disk
// set and the table agree exactly on CIDs (the startup-sync law, §4.1/§8).
// It also (re)populates the in-memory cache from the result.
func (r *Registry) SyncFromDisk(ctx context.Context) error {
	var blobs []model.DetailBlob
	err := filepath.WalkDir(r.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == r.dataDir {
				return nil // no details directory yet is not fatal
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("detailregistry: read %s: %w", path, err)
		}
		blobs = append(blobs, model.DetailBlob{CID: CID(content), Content: content})
		return nil
	})
	if err != nil {
		return errors.Domain("walk details directory", err)
	}

	if err := r.store.SyncDetailFiles(ctx, blobs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string][]byte, len(blobs))
	for _, b := range blobs {
		r.cache[b.CID] = b.Content
	}
	return nil
}

// Get returns the content for cid, consulting the in-memory cache first and
// falling back to the store (e.g. content written by another process to the
// table since the last sync, though single-writer semantics make this rare).
func (r *Registry) Get(ctx context.Context, cid string) ([]byte, error) {
	r.mu.RLock()
	content, ok := r.cache[cid]
	r.mu.RUnlock()
	if ok {
		return content, nil
	}

	blob, err := r.store.GetDetailBlob(ctx, cid)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[blob.CID] = blob.Content
	r.mu.Unlock()
	return blob.Content, nil
}

// Has reports whether cid resolves, without returning its content.
func (r *Registry) Has(ctx context.Context, cid string) bool {
	_, err := r.Get(ctx, cid)
	return err == nil
}

// Put stores content both in the Store and on disk at fileName (relative to
// dataDir), so a later boot's SyncFromDisk preserves it (runtime writes,
// e.g. virtual-provider registration, per §4.1/§6 naming conventions).
func (r *Registry) Put(ctx context.Context, fileName string, content []byte) (string, error) {
	cid := CID(content)
	if err := r.store.PutDetailBlob(ctx, model.DetailBlob{CID: cid, Content: content}); err != nil {
		return "", err
	}

	fullPath := filepath.Join(r.dataDir, fileName)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", errors.Domain("create details directory", err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return "", errors.Domain("write detail file", err)
	}

	r.mu.Lock()
	r.cache[cid] = content
	r.mu.Unlock()
	return cid, nil
}
