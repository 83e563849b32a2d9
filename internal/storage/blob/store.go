// Package blob archives uploaded recordings to local disk or S3, optionally
// encrypted at rest.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncecere/voice_translator/internal/config"
)

var ErrNotFound = errors.New("object not found")

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Encrypted   bool
}

// Store is a key/value object store for recordings.
type Store interface {
	Put(ctx context.Context, key string, body []byte, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type store struct {
	backend Store
	sealer  *sealer
}

// New builds the configured store. It returns nil when archiving is disabled.
func New(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		backend Store
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		backend, err = newS3Store(ctx, cfg.S3)
	default:
		backend, err = newLocalStore(cfg.Local.Directory)
	}
	if err != nil {
		return nil, err
	}
	s, err := newSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &store{backend: backend, sealer: s}, nil
}

func (s *store) Put(ctx context.Context, key string, body []byte, opts PutOptions) (ObjectInfo, error) {
	if s.sealer == nil {
		return s.backend.Put(ctx, key, body, opts)
	}
	sealed, err := s.sealer.seal(body)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("encrypt recording: %w", err)
	}
	meta := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	meta[encryptionMetadataKey] = encryptionMethod
	info, err := s.backend.Put(ctx, key, sealed, PutOptions{ContentType: opts.ContentType, Metadata: meta})
	if err != nil {
		return ObjectInfo{}, err
	}
	info.Size = int64(len(body))
	info.Encrypted = true
	return info, nil
}

func (s *store) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	body, info, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if _, ok := info.Metadata[encryptionMetadataKey]; !ok {
		return body, info, nil
	}
	if s.sealer == nil {
		return nil, ObjectInfo{}, errors.New("recording is encrypted but no archive key is configured")
	}
	plain, err := s.sealer.open(body)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("decrypt recording: %w", err)
	}
	info.Size = int64(len(plain))
	info.Encrypted = true
	return plain, info, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Recording is one uploaded clip with its request context.
type Recording struct {
	RequestID      string
	UserID         string
	SourceLanguage string
	TargetLanguage string
	Audio          []byte
	ReceivedAt     time.Time
}

// Key lays recordings out by day and user.
func (r Recording) Key() string {
	at := r.ReceivedAt.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return fmt.Sprintf("recordings/%s/%s/%s.wav", at.Format("2006/01/02"), sanitize(r.UserID), sanitize(r.RequestID))
}

// Archive writes rec to s.
func Archive(ctx context.Context, s Store, rec Recording) (ObjectInfo, error) {
	if s == nil {
		return ObjectInfo{}, nil
	}
	return s.Put(ctx, rec.Key(), rec.Audio, PutOptions{
		ContentType: "audio/wav",
		Metadata: map[string]string{
			"request-id":      rec.RequestID,
			"user-id":         rec.UserID,
			"source-language": rec.SourceLanguage,
			"target-language": rec.TargetLanguage,
		},
	})
}

func sanitize(part string) string {
	part = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, part)
	if part == "" {
		return "_"
	}
	return part
}
