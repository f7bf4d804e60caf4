// Package blobstore stores record and bill attachments. Backends are
// content-addressed: storing the same bytes twice yields the same Ref, so a
// retried upload after a failed ledger write is harmless.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrMissingFileName = errors.New("file name is required")
	ErrEmptyContent    = errors.New("file is empty")
)

// MaxFileSize is the maximum allowed blob size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// Ref identifies stored content. Only a Store produces refs.
type Ref string

// Upload describes content handed to Put.
type Upload struct {
	FileName    string
	ContentType string
}

// Metadata describes a stored blob.
type Metadata struct {
	Ref         Ref       `json:"ref"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is implemented by every attachment backend.
type Store interface {
	Put(ctx context.Context, u Upload, content io.Reader) (*Metadata, error)
	Get(ctx context.Context, ref Ref) (io.ReadCloser, *Metadata, error)
}

// readContent validates u and reads at most MaxFileSize bytes.
func readContent(u Upload, content io.Reader) ([]byte, error) {
	if u.FileName == "" {
		return nil, ErrMissingFileName
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyContent
	}
	return data, nil
}

// IsInvalidUpload reports whether err is the caller's fault rather than a
// backend failure.
func IsInvalidUpload(err error) bool {
	return errors.Is(err, ErrMissingFileName) || errors.Is(err, ErrEmptyContent) || errors.Is(err, ErrFileTooLarge)
}

// ContentRef returns the SHA-256 ref for data.
func ContentRef(data []byte) Ref {
	h := sha256.Sum256(data)
	return Ref(hex.EncodeToString(h[:]))
}

func validHashRef(ref Ref) bool {
	if len(ref) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(ref))
	return err == nil
}

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[Ref]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[Ref]*storedBlob)}
}

// Put stores content under its SHA-256 ref. Re-uploading identical content
// keeps the metadata of the first upload.
func (s *InMemoryBlobStore) Put(_ context.Context, u Upload, content io.Reader) (*Metadata, error) {
	data, err := readContent(u, content)
	if err != nil {
		return nil, err
	}
	ref := ContentRef(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blobs[ref]; ok {
		meta := existing.metadata
		return &meta, nil
	}
	meta := Metadata{
		Ref:         ref,
		FileName:    u.FileName,
		ContentType: contentTypeOrDefault(u.ContentType),
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	s.blobs[ref] = &storedBlob{metadata: meta, content: data}
	return &meta, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, ref Ref) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[ref]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// Len reports how many distinct blobs are stored.
func (s *InMemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
