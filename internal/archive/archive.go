// Package archive keeps a copy of removed document versions outside the
// document store. The mutation contract itself keeps no tombstones.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/gogotex/revdoc/internal/document"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver receives the last version of every removed document.
type Archiver interface {
	Archive(ctx context.Context, rec *document.Record) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Archive(context.Context, *document.Record) error { return nil }

// Config holds MinIO connection configuration.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Entry is the JSON object written per removed version.
type Entry struct {
	ID        string         `json:"_id"`
	Rev       string         `json:"_rev"`
	Key       string         `json:"_key"`
	RemovedAt time.Time      `json:"removedAt"`
	Body      map[string]any `json:"body"`
}

// ObjectName is where the removed version rec is stored.
func ObjectName(rec *document.Record) string {
	return path.Join(rec.Handle.Collection, rec.Handle.Key, rec.Rev+".json")
}

// NewEntry builds the archived form of rec.
func NewEntry(rec *document.Record, removedAt time.Time) Entry {
	return Entry{
		ID:        rec.Handle.String(),
		Rev:       rec.Rev,
		Key:       rec.Handle.Key,
		RemovedAt: removedAt.UTC(),
		Body:      rec.Body,
	}
}

// MinIO is a thin wrapper around the minio client writing archive entries.
type MinIO struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinIO creates a new MinIO archiver and ensures the bucket exists.
func NewMinIO(ctx context.Context, cfg Config) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "revdoc-archive"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		// ignore "already exists" style errors
		exist, xerr := mc.BucketExists(ctx, cfg.Bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return &MinIO{client: mc, bucket: cfg.Bucket, now: time.Now}, nil
}

func (a *MinIO) Archive(ctx context.Context, rec *document.Record) error {
	b, err := json.Marshal(NewEntry(rec, a.now()))
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucket, ObjectName(rec), bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", ObjectName(rec), err)
	}
	return nil
}
