// Package storage keeps generated result files so that browsers can
// download them after a processing run completes.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys not produced by SaveResult.
var ErrInvalidKey = errors.New("invalid object key")

const sniffLen = 3072

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Object is an opened result file.
type Object struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
}

// Storage stores result files under "<uuid>/<filename>" keys.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// SaveResult uploads data and returns the key it was stored under.
func (s *Storage) SaveResult(ctx context.Context, filename string, data []byte) (string, error) {
	filename = sanitizeFilename(filename)
	if filename == "" {
		return "", fmt.Errorf("%w: empty filename", ErrInvalidKey)
	}
	key := uuid.NewString() + "/" + filename
	contentType := mimetype.Detect(data).String()
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// Open returns the stored result for key. The caller closes Body.
func (s *Storage) Open(ctx context.Context, key string) (Object, error) {
	if err := ValidateKey(key); err != nil {
		return Object{}, err
	}
	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return Object{}, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		_ = rc.Close()
		return Object{}, fmt.Errorf("read %s: %w", key, err)
	}
	head = head[:n]

	return Object{
		Body: struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), rc), rc},
		Filename:    path.Base(key),
		ContentType: mimetype.Detect(head).String(),
	}, nil
}

// Delete removes a stored result.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// ValidateKey checks that key has the "<uuid>/<filename>" shape.
func ValidateKey(key string) error {
	id, name, ok := strings.Cut(key, "/")
	if !ok || name == "" || strings.Contains(name, "/") || name != sanitizeFilename(name) {
		return ErrInvalidKey
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidKey
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
