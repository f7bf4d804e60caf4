package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisContentPrefix = "attachment:"
	redisMetaSuffix    = ":meta"
)

func redisContentKey(ref Ref) string { return redisContentPrefix + string(ref) }
func redisMetaKey(ref Ref) string    { return redisContentPrefix + string(ref) + redisMetaSuffix }

// RedisBlobStore keeps attachments in Redis under their SHA-256 ref.
// Keys never expire.
type RedisBlobStore struct {
	client redis.UniversalClient
}

func NewRedisBlobStore(client redis.UniversalClient) *RedisBlobStore {
	return &RedisBlobStore{client: client}
}

func (s *RedisBlobStore) Put(ctx context.Context, u Upload, content io.Reader) (*Metadata, error) {
	data, err := readContent(u, content)
	if err != nil {
		return nil, err
	}
	ref := ContentRef(data)
	meta := Metadata{
		Ref:         ref,
		FileName:    u.FileName,
		ContentType: contentTypeOrDefault(u.ContentType),
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	// SETNX on both keys: an identical upload leaves the first copy intact.
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, redisContentKey(ref), data, 0)
		p.SetNX(ctx, redisMetaKey(ref), rawMeta, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store attachment %s: %w", ref, err)
	}

	stored, err := s.metadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *RedisBlobStore) metadata(ctx context.Context, ref Ref) (*Metadata, error) {
	raw, err := s.client.Get(ctx, redisMetaKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", ref, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", ref, err)
	}
	return &meta, nil
}

func (s *RedisBlobStore) Get(ctx context.Context, ref Ref) (io.ReadCloser, *Metadata, error) {
	if !validHashRef(ref) {
		return nil, nil, ErrBlobNotFound
	}
	meta, err := s.metadata(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.client.Get(ctx, redisContentKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load attachment %s: %w", ref, err)
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}
