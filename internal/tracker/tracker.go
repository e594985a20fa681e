// Package tracker persists per-store indexing state: which files are
// indexed, their content hashes, and the chunk IDs they produced. One
// JSON document per store lives under the tracking directory; documents
// are cached in memory after first load and written atomically.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/quarrysearch/quarry/internal/errors"
)

// TrackedFile is the indexing state of one path within a store.
type TrackedFile struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	IndexedAt time.Time `json:"indexed_at"`
	ChunkIDs  []string  `json:"chunk_ids"`
}

// storeDoc is the serialized per-store document.
type storeDoc struct {
	Store     string                  `json:"store"`
	UpdatedAt time.Time               `json:"updated_at"`
	Files     map[string]*TrackedFile `json:"files"`
}

// CheckResult partitions paths by change status.
type CheckResult struct {
	New       []string
	Changed   []string
	Unchanged []string
}

// Tracker manages tracking documents for all stores. Safe for
// concurrent use within a process; a directory flock guards against
// concurrent processes.
type Tracker struct {
	dir  string
	lock *flock.Flock

	mu   sync.Mutex
	docs map[string]*storeDoc
}

// New creates a tracker rooted at dir and takes the cross-process lock.
func New(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".tracker.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire tracking lock: %w", err)
	}
	if !locked {
		return nil, errors.E(errors.KindInternal, "tracker.New",
			fmt.Sprintf("tracking dir %s is locked by another process", dir), nil)
	}

	return &Tracker{
		dir:  dir,
		lock: lock,
		docs: make(map[string]*storeDoc),
	}, nil
}

// Close releases the cross-process lock.
func (t *Tracker) Close() error {
	return t.lock.Unlock()
}

// Hash returns the content hash used for change detection: a sha256
// digest truncated to 16 hex characters. Collisions are acceptable for
// change detection, never for integrity.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

func (t *Tracker) docPath(store string) string {
	return filepath.Join(t.dir, store+".json")
}

// load returns the cached document for store, reading it from disk on
// first access. Callers hold t.mu.
func (t *Tracker) load(store string) (*storeDoc, error) {
	if doc, ok := t.docs[store]; ok {
		return doc, nil
	}

	doc := &storeDoc{Store: store, Files: make(map[string]*TrackedFile)}
	data, err := os.ReadFile(t.docPath(store))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read tracking doc for %s: %w", store, err)
		}
	} else if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse tracking doc for %s: %w", store, err)
	}
	if doc.Files == nil {
		doc.Files = make(map[string]*TrackedFile)
	}

	t.docs[store] = doc
	return doc, nil
}

// save writes the store document atomically. Callers hold t.mu.
func (t *Tracker) save(store string) error {
	doc, ok := t.docs[store]
	if !ok {
		return nil
	}
	doc.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracking doc for %s: %w", store, err)
	}

	path := t.docPath(store)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tracking doc for %s: %w", store, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit tracking doc for %s: %w", store, err)
	}
	return nil
}

// CheckFiles partitions paths into new, changed, and unchanged by
// comparing content hashes against the tracked state.
func (t *Tracker) CheckFiles(store string, paths []string, contents map[string][]byte) (*CheckResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{}
	for _, path := range paths {
		tracked, ok := doc.Files[path]
		if !ok {
			result.New = append(result.New, path)
			continue
		}
		if tracked.Hash != Hash(contents[path]) {
			result.Changed = append(result.Changed, path)
		} else {
			result.Unchanged = append(result.Unchanged, path)
		}
	}
	return result, nil
}

// HasFileChanged reports whether path is untracked or its content hash
// differs from the tracked one.
func (t *Tracker) HasFileChanged(store, path string, content []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return false, err
	}
	tracked, ok := doc.Files[path]
	if !ok {
		return true, nil
	}
	return tracked.Hash != Hash(content), nil
}

// Track records path as indexed with the given chunk IDs and persists.
func (t *Tracker) Track(store, path string, content []byte, chunkIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return err
	}
	doc.Files[path] = &TrackedFile{
		Path:      path,
		Hash:      Hash(content),
		Size:      int64(len(content)),
		IndexedAt: time.Now().UTC(),
		ChunkIDs:  chunkIDs,
	}
	return t.save(store)
}

// TrackHashed records path using a precomputed hash and size. Queue
// workers commit tracking state without holding the raw file content.
func (t *Tracker) TrackHashed(store, path, hash string, size int64, chunkIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return err
	}
	doc.Files[path] = &TrackedFile{
		Path:      path,
		Hash:      hash,
		Size:      size,
		IndexedAt: time.Now().UTC(),
		ChunkIDs:  chunkIDs,
	}
	return t.save(store)
}

// Untrack removes path from the store and returns the chunk IDs that
// must be deleted from the indices. Unknown paths return no IDs.
func (t *Tracker) Untrack(store, path string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return nil, err
	}
	tracked, ok := doc.Files[path]
	if !ok {
		return nil, nil
	}
	delete(doc.Files, path)
	if err := t.save(store); err != nil {
		return nil, err
	}
	return tracked.ChunkIDs, nil
}

// UntrackByPrefix removes every path starting with prefix and returns
// the combined chunk IDs to delete.
func (t *Tracker) UntrackByPrefix(store, prefix string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return nil, err
	}

	var chunkIDs []string
	for path, tracked := range doc.Files {
		if strings.HasPrefix(path, prefix) {
			chunkIDs = append(chunkIDs, tracked.ChunkIDs...)
			delete(doc.Files, path)
		}
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	if err := t.save(store); err != nil {
		return nil, err
	}
	return chunkIDs, nil
}

// FindDeleted returns tracked paths that are absent from currentPaths.
func (t *Tracker) FindDeleted(store string, currentPaths []string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(currentPaths))
	for _, p := range currentPaths {
		current[p] = struct{}{}
	}

	var deleted []string
	for path := range doc.Files {
		if _, ok := current[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// TrackedFiles returns a snapshot of the store's tracked files, sorted
// by path.
func (t *Tracker) TrackedFiles(store string) ([]*TrackedFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load(store)
	if err != nil {
		return nil, err
	}

	files := make([]*TrackedFile, 0, len(doc.Files))
	for _, f := range doc.Files {
		copied := *f
		files = append(files, &copied)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Clear drops all tracking state for the store. Used by reindex.
func (t *Tracker) Clear(store string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.docs[store] = &storeDoc{Store: store, Files: make(map[string]*TrackedFile)}
	if err := t.save(store); err != nil {
		return err
	}
	return nil
}

// Delete removes the store's tracking document entirely.
func (t *Tracker) Delete(store string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.docs, store)
	if err := os.Remove(t.docPath(store)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete tracking doc for %s: %w", store, err)
	}
	return nil
}
