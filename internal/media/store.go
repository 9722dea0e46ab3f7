// Package media provides the content-addressed blob store for card media.
//
// Files are stored by SHA-256 content hash under a two-level fan-out
// directory (baseDir/aa/bb/aabb...), so identical files are stored once
// regardless of how many cards or imports reference them. The sync engine
// only synchronizes media *rows*; the bytes stay local under their address.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RefPrefix marks an embedded media reference inside card text, as in
// ![diagram](media:a3f2...).
const RefPrefix = "media:"

// Store is a content-addressed file store rooted at a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir. The directory is created on
// first write, not here.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Address returns the content address (SHA-256 hex) of data.
func Address(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AddressReader returns the content address of everything readable from r.
func AddressReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Store writes data under its content address and returns the address.
// Storing the same bytes twice is a no-op.
func (s *Store) Store(data []byte) (string, error) {
	addr := Address(data)

	path := s.pathFor(addr)
	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return addr, nil
}

// StoreFile stores the file at sourcePath and returns its content address.
// The source file is not modified.
func (s *Store) StoreFile(sourcePath string) (string, error) {
	// #nosec G304 - controlled path from import pipeline
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	addr, err := AddressReader(f)
	if err != nil {
		return "", err
	}

	path := s.pathFor(addr)
	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind source file: %w", err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to copy media file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to close media file: %w", err)
	}
	return addr, nil
}

// Resolve returns the local path for a content address, or ok=false when the
// blob is not present (for example, a row synced from another device whose
// bytes never arrived).
func (s *Store) Resolve(address string) (string, bool) {
	if len(address) < 4 {
		return "", false
	}
	path := s.pathFor(address)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Open opens the blob for a content address for reading.
func (s *Store) Open(address string) (io.ReadCloser, error) {
	path, ok := s.Resolve(address)
	if !ok {
		return nil, fmt.Errorf("media %s not present in store", address)
	}
	// #nosec G304 - path derived from content address
	return os.Open(path)
}

// Ref builds the reference form embedded in card text for an address.
func Ref(address string) string {
	return RefPrefix + address
}

// ParseRef extracts the address from a media reference; ok=false when the
// string is not a media reference.
func ParseRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", false
	}
	return strings.TrimPrefix(ref, RefPrefix), true
}

// pathFor maps an address to baseDir/aa/bb/address.
func (s *Store) pathFor(address string) string {
	return filepath.Join(s.baseDir, address[0:2], address[2:4], address)
}
