package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is a saved relay login.
type Profile struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	PublicKey string `yaml:"public_key"`
	LastUsed  int64  `yaml:"last_used,omitempty"`
}

// ProfileStore keeps profiles in a YAML file. Passwords are never stored.
type ProfileStore struct {
	path     string
	Profiles []Profile `yaml:"profiles"`
}

// NewProfileStore creates a store backed by path.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// DefaultProfilePath returns profiles.yaml in the user config directory.
func DefaultProfilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("client: config dir: %w", err)
	}
	return filepath.Join(dir, "gorelay", "profiles.yaml"), nil
}

// Load reads profiles from disk. A missing file yields an empty list.
func (ps *ProfileStore) Load() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			ps.Profiles = nil
			return nil
		}
		return fmt.Errorf("client: read profiles: %w", err)
	}
	if err := yaml.Unmarshal(data, ps); err != nil {
		return fmt.Errorf("client: parse profiles: %w", err)
	}
	return nil
}

// Save writes profiles to disk.
func (ps *ProfileStore) Save() error {
	data, err := yaml.Marshal(ps)
	if err != nil {
		return fmt.Errorf("client: marshal profiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ps.path), 0o700); err != nil {
		return fmt.Errorf("client: create profile dir: %w", err)
	}
	return os.WriteFile(ps.path, data, 0o600)
}

// Add adds or updates a profile keyed by name. Returns true if it was new.
func (ps *ProfileStore) Add(p Profile) bool {
	for i := range ps.Profiles {
		if ps.Profiles[i].Name == p.Name {
			ps.Profiles[i] = p
			return false
		}
	}
	ps.Profiles = append(ps.Profiles, p)
	return true
}

// Get returns the profile with name.
func (ps *ProfileStore) Get(name string) (Profile, bool) {
	for _, p := range ps.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Touch updates LastUsed for an existing profile.
func (ps *ProfileStore) Touch(name string, ts int64) bool {
	for i := range ps.Profiles {
		if ps.Profiles[i].Name == name {
			ps.Profiles[i].LastUsed = ts
			return true
		}
	}
	return false
}

// Remove deletes the profile with name. Returns true if one was removed.
func (ps *ProfileStore) Remove(name string) bool {
	for i := range ps.Profiles {
		if ps.Profiles[i].Name == name {
			ps.Profiles = append(ps.Profiles[:i], ps.Profiles[i+1:]...)
			return true
		}
	}
	return false
}
