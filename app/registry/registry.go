// Package registry loads the resource registry file and keeps the store in sync with it.
// The file lists protected resources with their auth policy and persisted feature flags.
// Sync is upsert-only, resources removed from the file stay in the store until deleted explicitly.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"

	"github.com/umputun/gatekeeper/app/auth"
	"github.com/umputun/gatekeeper/app/store"
)

//go:generate go run internal/schema/main.go schema.json

// Config represents the registry file (gatekeeper.yml).
type Config struct {
	Resources []ResourceConfig `yaml:"resources,omitempty" json:"resources,omitempty" jsonschema:"description=protected resources"`
	Flags     []FlagConfig     `yaml:"flags,omitempty" json:"flags,omitempty" jsonschema:"description=persisted feature flags"`
}

// ResourceConfig is a single resource with its policy.
type ResourceConfig struct {
	Name        string   `yaml:"name" json:"name" jsonschema:"required,minLength=1"`
	AuthProfile string   `yaml:"auth_profile,omitempty" json:"auth_profile,omitempty" jsonschema:"enum=JWT_ONLY,enum=APIKEY_ONLY,enum=EITHER,enum=JWT_AND_APIKEY"`
	RequireHMAC bool     `yaml:"require_hmac,omitempty" json:"require_hmac,omitempty"`
	IPAllowlist []string `yaml:"ip_allowlist,omitempty" json:"ip_allowlist,omitempty" jsonschema:"description=CIDR or single address"`
}

// FlagConfig is a persisted feature flag.
type FlagConfig struct {
	Name    string `yaml:"name" json:"name" jsonschema:"required,minLength=1"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// PolicyWriter stores resource policies, implemented by store.Store and store.CachedRegistry.
type PolicyWriter interface {
	SetPolicy(ctx context.Context, rec store.PolicyRecord) error
}

// FlagWriter stores persisted flags, implemented by store.Store.
type FlagWriter interface {
	SetFlag(ctx context.Context, name string, enabled bool) error
}

// Load reads, validates and parses the registry file. Content errors wrap ErrInvalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from CLI flag, controlled by admin
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	// validate against embedded JSON schema
	if err := Verify(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err) //nolint:errorlint // category is the sentinel
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks what the schema can't: unique names and parsable allowlists.
func (c *Config) validate() error {
	seen := map[string]bool{}
	for _, r := range c.Resources {
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate resource %q", ErrInvalid, r.Name)
		}
		seen[r.Name] = true
		if _, err := auth.ParsePrefixes(r.IPAllowlist); err != nil {
			return fmt.Errorf("%w: resource %q: %v", ErrInvalid, r.Name, err) //nolint:errorlint // category is the sentinel
		}
	}
	flags := map[string]bool{}
	for _, f := range c.Flags {
		if flags[f.Name] {
			return fmt.Errorf("%w: duplicate flag %q", ErrInvalid, f.Name)
		}
		flags[f.Name] = true
	}
	return nil
}

// Registry syncs the registry file into the store.
type Registry struct {
	path     string
	policies PolicyWriter
	flags    FlagWriter

	mu       sync.Mutex // serializes syncs from watcher and callers
	lastSync time.Time
}

// New makes a registry for the file at path. Returns nil if path is empty (registry file disabled).
func New(path string, policies PolicyWriter, flags FlagWriter) *Registry {
	if path == "" {
		return nil
	}
	return &Registry{path: path, policies: policies, flags: flags}
}

// Sync loads the file and upserts every resource and flag into the store.
// On load error nothing is written and the store keeps its current state.
func (r *Registry) Sync(ctx context.Context) error {
	if r == nil {
		return errors.New("registry file not set")
	}
	cfg, err := Load(r.path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range cfg.Resources {
		rec := store.PolicyRecord{Resource: res.Name, AuthProfile: res.AuthProfile, RequireHMAC: res.RequireHMAC,
			IPAllowlist: res.IPAllowlist}
		if err := r.policies.SetPolicy(ctx, rec); err != nil {
			return fmt.Errorf("failed to sync resource %q: %w", res.Name, err)
		}
	}
	for _, f := range cfg.Flags {
		if err := r.flags.SetFlag(ctx, f.Name, f.Enabled); err != nil {
			return fmt.Errorf("failed to sync flag %q: %w", f.Name, err)
		}
	}
	r.lastSync = time.Now()
	log.Printf("[INFO] registry synced from %s, %d resources, %d flags", r.path, len(cfg.Resources), len(cfg.Flags))
	return nil
}

// LastSync returns the time of the last successful sync.
func (r *Registry) LastSync() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSync
}

// StartWatcher starts watching the registry file for changes and syncs on every change.
// The watcher stops when the context is canceled.
func (r *Registry) StartWatcher(ctx context.Context) error {
	if r == nil {
		return errors.New("registry file not set")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// watch the directory, not the file, to catch atomic renames done by editors
	dir := filepath.Dir(r.path)
	filename := filepath.Base(r.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	log.Printf("[INFO] watching registry file %s for changes", r.path)

	go func() {
		defer watcher.Close()

		var debounceTimer *time.Timer
		const debounceDelay = 100 * time.Millisecond

		for {
			select {
			case <-ctx.Done():
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				log.Printf("[INFO] registry watcher stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := r.Sync(ctx); err != nil {
						log.Printf("[WARN] failed to sync registry: %v", err)
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] registry watcher error: %v", err)
			}
		}
	}()

	return nil
}
