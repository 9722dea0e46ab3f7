package remote

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials authenticate against the remote backend.
type Credentials struct {
	// URL is the database endpoint, e.g. libsql://leitner-user.turso.io.
	URL string `json:"url"`
	// AuthToken is the bearer token for the database.
	AuthToken string `json:"auth_token"`
	// OwnerID identifies the signed-in user; every synced row carries it.
	OwnerID string `json:"owner_id"`
}

// Validate checks the credentials are complete.
func (c Credentials) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("remote URL is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	return nil
}

// CredentialSource supplies credentials at connect time.
type CredentialSource interface {
	Load() (Credentials, error)
}

// FileSource reads credentials from the session file `lt login` writes.
type FileSource struct {
	Path string
}

// Load reads and validates the session file.
// A missing file means nobody is signed in: ErrUnauthorized.
func (f FileSource) Load() (Credentials, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return Credentials{}, fmt.Errorf("%w: no session (run `lt login`)", ErrUnauthorized)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return creds, nil
}

// Save writes the session file with owner-only permissions. The write goes
// through a temp file and rename so a crash never leaves a torn session.
func Save(path string, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("invalid credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear removes the session file. Missing files are fine: signing out twice
// is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
