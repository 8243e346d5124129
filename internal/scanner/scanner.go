package scanner

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docsync/internal/contextutil"
)

// ScannedFile represents a file found during a corpus scan.
type ScannedFile struct {
	RelPath  string // Relative path from the tenant root, forward slashes
	AbsPath  string // Absolute file path
	Size     int64
	ModTime  time.Time
	Hash     string // Hex-encoded content hash
	MimeType string
}

// ScanError records a per-file failure that did not abort the scan.
type ScanError struct {
	Path string
	Err  error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

// Result is the outcome of scanning one tenant root.
type Result struct {
	Files  []ScannedFile
	Errors []ScanError
}

// Options configures a Scanner.
type Options struct {
	HashAlgorithm     string   // sha256, sha1 or md5
	AllowedExtensions []string // lowercase, with leading dot; empty allows everything
	IgnorePatterns    []string // glob patterns matched against base names
	MaxFileSizeBytes  int64    // 0 = unlimited
	CacheEnabled      bool
}

// Scanner enumerates a tenant's files, filters them and computes content hashes.
type Scanner struct {
	opts     Options
	allowExt map[string]struct{}
	cache    *hashCache
}

// New creates a Scanner. It validates the hash algorithm up front so a
// misconfiguration fails at startup rather than mid-run.
func New(opts Options) (*Scanner, error) {
	if _, err := newHasher(opts.HashAlgorithm); err != nil {
		return nil, err
	}

	allowExt := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowExt[strings.ToLower(ext)] = struct{}{}
	}

	s := &Scanner{
		opts:     opts,
		allowExt: allowExt,
	}
	if opts.CacheEnabled {
		s.cache = newHashCache()
	}
	return s, nil
}

// Scan walks the tenant root and returns all matching files with their hashes.
// Per-file I/O errors are collected in Result.Errors; siblings keep scanning.
// A failure to read the root itself is fatal.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("tenant root unreadable: %w", err)
	}

	result := &Result{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if path == root {
				return err
			}
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && s.ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.ignored(d.Name()) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if len(s.allowExt) > 0 {
			if _, ok := s.allowExt[ext]; !ok {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			return nil
		}

		if s.opts.MaxFileSizeBytes > 0 && info.Size() > s.opts.MaxFileSizeBytes {
			logger.DebugContext(ctx, "skipping oversized file", "path", path, "size", info.Size())
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		fileHash, err := s.hashFile(path, info)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			return nil
		}

		result.Files = append(result.Files, ScannedFile{
			RelPath:  relPath,
			AbsPath:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Hash:     fileHash,
			MimeType: mimeType(ext),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan root %s: %w", root, err)
	}

	logger.DebugContext(ctx, "scan complete", "root", root, "files", len(result.Files), "errors", len(result.Errors))
	return result, nil
}

// ignored reports whether name matches any ignore pattern.
func (s *Scanner) ignored(name string) bool {
	for _, pat := range s.opts.IgnorePatterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// hashFile computes the content hash, consulting the cache keyed by
// (path, mtime, size) when enabled.
func (s *Scanner) hashFile(path string, info fs.FileInfo) (string, error) {
	if s.cache != nil {
		if h, ok := s.cache.get(path, info.ModTime(), info.Size()); ok {
			return h, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	h, err := newHasher(s.opts.HashAlgorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if s.cache != nil {
		s.cache.put(path, info.ModTime(), info.Size(), sum)
	}
	return sum, nil
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "", "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

func mimeType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		// Strip any charset parameter; the stored type is a filter key.
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	switch ext {
	case ".md":
		return "text/markdown"
	case ".rst":
		return "text/x-rst"
	default:
		return "application/octet-stream"
	}
}
