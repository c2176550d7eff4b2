package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
)

// GCSStore keeps artifacts in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, key))
}

func (s *GCSStore) Put(ctx context.Context, name string, content []byte) (reportdomain.ArtifactInfo, error) {
	key := storageKey(name)

	// DoesNotExist makes a key collision fail instead of overwriting.
	wc := s.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	wc.ContentType = contentType(key)

	hasher := sha256.New()
	size, err := io.Copy(wc, io.TeeReader(bytes.NewReader(content), hasher))
	if err != nil {
		_ = wc.Close()
		return reportdomain.ArtifactInfo{}, fmt.Errorf("upload artifact %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return reportdomain.ArtifactInfo{}, fmt.Errorf("upload artifact %s: %w", key, err)
	}

	return reportdomain.ArtifactInfo{
		Path: key,
		Size: size,
		Hash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", key, reportdomain.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return content, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
