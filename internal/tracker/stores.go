package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/errors"
)

const (
	registryFileName   = "stores.json"
	maxStoreNameLength = 64
)

// validStoreName limits store names to characters safe in collection
// names, index directories, and queue names.
var validStoreName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateStoreName rejects names unusable as collection or file names.
func ValidateStoreName(name string) error {
	if name == "" {
		return errors.InvalidArgument("tracker.ValidateStoreName", "store name cannot be empty")
	}
	if len(name) > maxStoreNameLength {
		return errors.InvalidArgument("tracker.ValidateStoreName",
			fmt.Sprintf("store name too long (max %d chars)", maxStoreNameLength))
	}
	if !validStoreName.MatchString(name) {
		return errors.InvalidArgument("tracker.ValidateStoreName",
			"store name may only contain letters, numbers, hyphens, and underscores")
	}
	return nil
}

// Store is registered store metadata.
type Store struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry is the persistent list of stores, one JSON file under the
// tracking directory.
type Registry struct {
	path string

	mu     sync.Mutex
	stores map[string]*Store
	loaded bool
}

// NewRegistry creates a registry persisted under dir.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}
	return &Registry{
		path:   filepath.Join(dir, registryFileName),
		stores: make(map[string]*Store),
	}, nil
}

func (r *Registry) load() error {
	if r.loaded {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read store registry: %w", err)
		}
		r.loaded = true
		return nil
	}

	var stores []*Store
	if err := json.Unmarshal(data, &stores); err != nil {
		return fmt.Errorf("parse store registry: %w", err)
	}
	for _, s := range stores {
		r.stores[s.Name] = s
	}
	r.loaded = true
	return nil
}

func (r *Registry) save() error {
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })

	data, err := json.MarshalIndent(stores, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit store registry: %w", err)
	}
	return nil
}

// Create registers a store. Creating an existing store updates its
// description and timestamp.
func (r *Registry) Create(name, description string) (*Store, error) {
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	store, ok := r.stores[name]
	if ok {
		store.Description = description
		store.UpdatedAt = now
	} else {
		store = &Store{Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
		r.stores[name] = store
	}

	if err := r.save(); err != nil {
		return nil, err
	}
	copied := *store
	return &copied, nil
}

// Get returns a store by name.
func (r *Registry) Get(name string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}

	store, ok := r.stores[name]
	if !ok {
		return nil, errors.NotFound("tracker.Registry.Get", name, "store not registered")
	}
	copied := *store
	return &copied, nil
}

// List returns all stores sorted by name.
func (r *Registry) List() ([]*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}

	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		copied := *s
		stores = append(stores, &copied)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })
	return stores, nil
}

// Touch bumps a store's UpdatedAt, registering it if missing.
func (r *Registry) Touch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if store, ok := r.stores[name]; ok {
		store.UpdatedAt = now
	} else {
		r.stores[name] = &Store{Name: name, CreatedAt: now, UpdatedAt: now}
	}
	return r.save()
}

// Remove deletes a store from the registry. Removing an unknown store
// is an error so callers surface typos.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return err
	}

	if _, ok := r.stores[name]; !ok {
		return errors.NotFound("tracker.Registry.Remove", name, "store not registered")
	}
	delete(r.stores, name)
	return r.save()
}
