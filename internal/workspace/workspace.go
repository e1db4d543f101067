// Package workspace manages ephemeral per-execution directories.
//
// Every request gets a freshly created directory under a single workspace
// root, seeded with a minimal package.json manifest so npm treats it as an
// isolated, private unit with no inherited dependencies. The directory is
// exclusively owned by one request for its entire lifetime and removed
// (best-effort) before the response is sent.
package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// scopePrefix names per-execution directories. The janitor only ever
// touches entries carrying this prefix.
const scopePrefix = "exec-"

// manifest is the minimal package.json written into every scope.
// private:true keeps npm from ever publishing or hoisting it.
type manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Private     bool   `json:"private"`
	Description string `json:"description"`
}

// Root manages the workspace root directory that all execution scopes
// are created under.
type Root struct {
	Dir    string
	logger *slog.Logger
}

// New creates a Root at the given path, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Root{Dir: abs, logger: logger}, nil
}

// Scope is an ephemeral, exclusively-owned directory for one execution.
type Scope struct {
	// ID uniquely identifies this execution scope.
	ID string

	// Path is the absolute directory path.
	Path string

	logger *slog.Logger
}

// Provision creates a fresh execution scope: a uniquely named directory
// (monotonic timestamp + random token, collision-free under concurrency)
// containing the manifest file.
func (r *Root) Provision() (*Scope, error) {
	id := fmt.Sprintf("%s%d-%s", scopePrefix, time.Now().UnixNano(), shortToken())
	path := filepath.Join(r.Dir, id)

	if err := os.Mkdir(path, 0750); err != nil {
		return nil, fmt.Errorf("creating execution scope: %w", err)
	}

	data, err := json.MarshalIndent(manifest{
		Name:        "kazi-execution-scope",
		Version:     "0.0.0",
		Private:     true,
		Description: "Ephemeral workspace for a single tool execution. Not persisted.",
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "package.json"), data, 0640); err != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	return &Scope{ID: id, Path: path, logger: r.logger}, nil
}

// Release removes the scope directory and everything in it. Best-effort:
// a cleanup failure is logged but never surfaced, so it cannot mask or
// replace the primary execution result. Safe to call more than once.
func (s *Scope) Release() {
	if err := os.RemoveAll(s.Path); err != nil && s.logger != nil {
		s.logger.Warn("failed to remove execution scope",
			slog.String("scope", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

// File returns the absolute path of a file inside the scope.
func (s *Scope) File(name string) string {
	return filepath.Join(s.Path, name)
}

// Sweep removes execution scopes older than maxAge. Scopes younger than
// maxAge may belong to in-flight requests and are left alone. Returns the
// number of directories removed.
func (r *Root) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return 0, fmt.Errorf("reading workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scopePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.Dir, entry.Name())); err != nil {
			if r.logger != nil {
				r.logger.Warn("failed to sweep stale scope",
					slog.String("scope", entry.Name()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		removed++
	}
	return removed, nil
}

// shortToken returns an 8-character random token for scope names.
func shortToken() string {
	return uuid.NewString()[:8]
}
