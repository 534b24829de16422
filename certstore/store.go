package certstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathEscape is returned when a requested path resolves outside the
// configured certificate root directory.
var ErrPathEscape = errors.New("path resolves outside certificate directory")

// ErrCertificateLoad is returned for unreadable, malformed or
// wrong-password certificate and key material.
var ErrCertificateLoad = errors.New("failed to load certificate material")

// EnvLookup looks up a single environment variable. os.LookupEnv satisfies
// this signature.
type EnvLookup func(key string) (string, bool)

// passwordEnvChars are the key path characters rewritten to '_' when
// deriving the password variable name.
var passwordEnvChars = regexp.MustCompile(`[-./]`)

// Store resolves certificate, key and CA file paths beneath a fixed root
// directory. It is safe for concurrent use: the root is immutable and
// every resolution works on its own inputs.
type Store struct {
	root string
	env  EnvLookup
	log  *slog.Logger
}

// New creates a store rooted at the given directory. The root is made
// absolute and cleaned once at construction. A nil env falls back to the
// process environment.
func New(root string, env EnvLookup, log *slog.Logger) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve certificate root %q: %w", root, err)
	}
	if env == nil {
		env = os.LookupEnv
	}
	return &Store{root: absRoot, env: env, log: log}, nil
}

// Root returns the absolute certificate root directory.
func (s *Store) Root() string {
	return s.root
}

// Resolve joins the root with a relative path, canonicalizes the result
// and verifies it is still inside the root. Returns ErrPathEscape for
// anything that ends up outside, including '..' traversal and absolute
// paths pointing elsewhere.
func (s *Store) Resolve(rel string) (string, error) {
	var abs string
	if filepath.IsAbs(rel) {
		abs = filepath.Clean(rel)
	} else {
		abs = filepath.Join(s.root, rel)
	}

	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		s.log.Warn("rejected path outside certificate root", "path", rel)
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return abs, nil
}

// KeyPassword returns the decryption password for the key at the given
// path, following the environment variable naming convention. The second
// return value is false when no password is configured, which means the
// key is not password-protected.
func (s *Store) KeyPassword(keyPath string) (string, bool) {
	name := strings.ToUpper(passwordEnvChars.ReplaceAllString(keyPath, "_")) + "_PASSWORD"
	return s.env(name)
}

// ReadFile resolves a relative path and reads the file contents.
func (s *Store) ReadFile(rel string) ([]byte, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCertificateLoad, rel, err)
	}
	return data, nil
}
