// Package storage keeps downloaded documents on local disk, one subdirectory
// per organization, with content hashes for deduplication.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Saved describes a document after it has been written to the store.
type Saved struct {
	// LocalPath is relative to the store root, "<orgID>/<filename>". The
	// registry records this path, so the root stays relocatable.
	LocalPath   string
	ContentHash string
	Bytes       int64
}

// DocumentStore is a filesystem document sink.
type DocumentStore struct {
	root   string
	logger *zap.Logger
}

// New creates the root directory if needed and verifies it is writable before
// any crawl work starts.
func New(root string, logger *zap.Logger) (*DocumentStore, error) {
	if root == "" {
		return nil, fmt.Errorf("document root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create document root: %w", err)
	}

	probe := filepath.Join(root, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return nil, fmt.Errorf("document root not writable: %w", err)
	}
	_ = os.Remove(probe)

	return &DocumentStore{root: root, logger: logger}, nil
}

// Root returns the store's base directory.
func (s *DocumentStore) Root() string { return s.root }

// AbsPath resolves a registry-recorded relative path against the store root.
func (s *DocumentStore) AbsPath(localPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(localPath))
}

// Save writes body under the organization's subdirectory, named from the
// source URL. Identical content under the same name is a no-op returning the
// existing path; differing content under the same name gets a hash-suffixed
// name instead of clobbering the earlier file.
func (s *DocumentStore) Save(orgID, sourceURL string, body []byte) (Saved, error) {
	if orgID == "" {
		return Saved{}, fmt.Errorf("org id is required")
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	name := FileNameFromURL(sourceURL)
	if name == "" {
		name = hash[:16] + ".pdf"
	}

	dir := filepath.Join(s.root, sanitizeComponent(orgID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Saved{}, fmt.Errorf("create org dir: %w", err)
	}

	target := filepath.Join(dir, name)
	if existing, err := os.ReadFile(target); err == nil {
		if hashBytes(existing) == hash {
			return Saved{
				LocalPath:   s.rel(target),
				ContentHash: hash,
				Bytes:       int64(len(body)),
			}, nil
		}
		base := strings.TrimSuffix(name, ".pdf")
		name = base + "-" + hash[:8] + ".pdf"
		target = filepath.Join(dir, name)
	}

	if err := writeAtomic(target, body); err != nil {
		return Saved{}, err
	}

	s.logger.Debug("document stored",
		zap.String("path", s.rel(target)),
		zap.Int("bytes", len(body)),
	)
	return Saved{LocalPath: s.rel(target), ContentHash: hash, Bytes: int64(len(body))}, nil
}

func (s *DocumentStore) rel(target string) string {
	rel, err := filepath.Rel(s.root, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

func writeAtomic(target string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("finalize document: %w", err)
	}
	return nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// trailingJunkRE strips an .ashx wrapper and any query string from the last
// URL segment. Government CMSes serve PDFs behind both constantly.
var trailingJunkRE = regexp.MustCompile(`(?i)(\.ashx)?\?.*$`)

var unsafeCharRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileNameFromURL derives a .pdf filename from a document URL's last path
// segment. Non-pdf extensions are swapped for .pdf, extensionless names get
// .pdf appended, and query-string download wrappers are stripped.
func FileNameFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	last := rawURL
	if i := strings.LastIndex(rawURL, "/"); i >= 0 {
		last = rawURL[i+1:]
	}
	clean := trailingJunkRE.ReplaceAllString(last, "")
	clean = unsafeCharRE.ReplaceAllString(clean, "_")
	clean = strings.Trim(clean, "._")
	if clean == "" {
		return ""
	}

	parts := strings.Split(clean, ".")
	if len(parts) == 1 {
		return clean + ".pdf"
	}
	if strings.EqualFold(parts[len(parts)-1], "pdf") {
		return strings.Join(parts[:len(parts)-1], ".") + ".pdf"
	}
	return strings.Join(parts[:len(parts)-1], "") + ".pdf"
}

// FallbackFileName names a document when no usable URL survives, from the
// organization name and a per-organization sequence number.
func FallbackFileName(orgName string, index int) string {
	base := unsafeCharRE.ReplaceAllString(strings.TrimSpace(orgName), "_")
	if base == "" {
		base = "document"
	}
	return fmt.Sprintf("%s_SBC_%d.pdf", base, index)
}

func sanitizeComponent(s string) string {
	out := unsafeCharRE.ReplaceAllString(s, "_")
	if out == "" {
		return "_"
	}
	return out
}
