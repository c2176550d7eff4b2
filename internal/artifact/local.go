package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
)

var errInvalidPath = errors.New("invalid_artifact_path")

// LocalStore keeps artifacts under a directory on the local disk.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes content to a temp file, fsyncs it and renames it into place,
// so readers never observe a partial artifact.
func (s *LocalStore) Put(_ context.Context, name string, content []byte) (reportdomain.ArtifactInfo, error) {
	key := storageKey(name)
	fullPath := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return reportdomain.ArtifactInfo{}, fmt.Errorf("create artifact dir: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return reportdomain.ArtifactInfo{}, fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(bytes.NewReader(content), hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return reportdomain.ArtifactInfo{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return reportdomain.ArtifactInfo{}, fmt.Errorf("fsync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return reportdomain.ArtifactInfo{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return reportdomain.ArtifactInfo{}, fmt.Errorf("rename artifact: %w", err)
	}

	return reportdomain.ArtifactInfo{
		Path: key,
		Size: size,
		Hash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", key, reportdomain.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return content, nil
}

// Delete returns nil when the artifact is already gone.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))
	if key == "" || cleaned == "/" || cleaned != "/"+key {
		return "", fmt.Errorf("%w: %q", errInvalidPath, key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

// storageKey turns a logical name such as "123/JPK_V7M_c1_2024-03.xml" into
// a unique key "123/jpk_v7m_c1_2024-03-1a2b3c4d.xml".
func storageKey(name string) string {
	name = strings.Trim(path.Clean("/"+filepath.ToSlash(name)), "/")
	dir, file := path.Split(name)

	ext := path.Ext(file)
	base := slug.Make(strings.TrimSuffix(file, ext))
	if len(base) > 80 {
		base = base[:80]
	}
	if base == "" {
		base = "artifact"
	}

	parts := make([]string, 0, 3)
	for _, segment := range strings.Split(strings.Trim(dir, "/"), "/") {
		if s := slug.Make(segment); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, fmt.Sprintf("%s-%s%s", base, uuid.New().String()[:8], strings.ToLower(ext)))
	return strings.Join(parts, "/")
}
