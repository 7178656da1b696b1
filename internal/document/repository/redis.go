package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/revdoc/internal/document"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds how often an optimistic transaction is retried after
// a watched key changed underneath it.
const maxTxRetries = 100

// RedisRepo implements Repository on Redis. Keys, relative to prefix:
//
//	collections      hash  id -> collection JSON
//	collnames        hash  name -> id
//	doc:<cid>:<key>  string document JSON
//	keys:<cid>       set   document keys of a collection
//
// Document mutations run under WATCH on the document key, so the revision
// comparison and the write commit together or not at all.
type RedisRepo struct {
	client *redis.Client
	prefix string
}

var _ Repository = (*RedisRepo)(nil)

type redisDocument struct {
	Rev       string         `json:"rev"`
	Body      map[string]any `json:"body"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewRedisRepository creates a Redis-based repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = "revdoc:"
	}
	return &RedisRepo{client: client, prefix: prefix}
}

func (r *RedisRepo) collectionsKey() string { return r.prefix + "collections" }
func (r *RedisRepo) namesKey() string       { return r.prefix + "collnames" }
func (r *RedisRepo) keysKey(cid string) string {
	return r.prefix + "keys:" + cid
}
func (r *RedisRepo) docKey(cid, key string) string {
	return r.prefix + "doc:" + cid + ":" + key
}

func (r *RedisRepo) CreateCollection(ctx context.Context, c *document.Collection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ok, err := r.client.HSetNX(ctx, r.namesKey(), c.Name, c.ID).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateName
	}
	return r.client.HSet(ctx, r.collectionsKey(), c.ID, b).Err()
}

func (r *RedisRepo) collectionByID(ctx context.Context, id string) (*document.Collection, error) {
	b, err := r.client.HGet(ctx, r.collectionsKey(), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCollectionNotFound
		}
		return nil, err
	}
	var c document.Collection
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedisRepo) FindCollection(ctx context.Context, ref string) (*document.Collection, error) {
	c, err := r.collectionByID(ctx, ref)
	if !errors.Is(err, ErrCollectionNotFound) {
		return c, err
	}
	id, err := r.client.HGet(ctx, r.namesKey(), ref).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCollectionNotFound
		}
		return nil, err
	}
	return r.collectionByID(ctx, id)
}

func (r *RedisRepo) ListCollections(ctx context.Context) ([]*document.Collection, error) {
	all, err := r.client.HGetAll(ctx, r.collectionsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*document.Collection, 0, len(all))
	for _, v := range all {
		var c document.Collection
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	sortCollections(out)
	return out, nil
}

func (r *RedisRepo) DropCollection(ctx context.Context, id string) error {
	c, err := r.collectionByID(ctx, id)
	if err != nil {
		return err
	}
	keys, err := r.client.SMembers(ctx, r.keysKey(id)).Result()
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, r.docKey(id, k))
		}
		pipe.Del(ctx, r.keysKey(id))
		pipe.HDel(ctx, r.collectionsKey(), id)
		pipe.HDel(ctx, r.namesKey(), c.Name)
		return nil
	})
	return err
}

func (r *RedisRepo) requireCollection(ctx context.Context, id string) error {
	ok, err := r.client.HExists(ctx, r.collectionsKey(), id).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *RedisRepo) Count(ctx context.Context, collectionID string) (int64, error) {
	if err := r.requireCollection(ctx, collectionID); err != nil {
		return 0, err
	}
	return r.client.SCard(ctx, r.keysKey(collectionID)).Result()
}

func decodeRedisDocument(cid, key string, b []byte) (*document.Document, error) {
	var rd redisDocument
	if err := json.Unmarshal(b, &rd); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &document.Document{Collection: cid, Key: key, Rev: rd.Rev, Body: rd.Body, UpdatedAt: rd.UpdatedAt}, nil
}

func encodeRedisDocument(d *document.Document) ([]byte, error) {
	return json.Marshal(redisDocument{Rev: d.Rev, Body: d.Body, UpdatedAt: d.UpdatedAt})
}

// watch runs fn in an optimistic transaction on key, retrying while the
// key keeps changing between WATCH and EXEC.
func (r *RedisRepo) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: transaction on %s retried %d times", key, maxTxRetries)
}

func (r *RedisRepo) Insert(ctx context.Context, doc *document.Document) error {
	if err := r.requireCollection(ctx, doc.Collection); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	b, err := encodeRedisDocument(doc)
	if err != nil {
		return err
	}
	key := r.docKey(doc.Collection, doc.Key)
	return r.watch(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrKeyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.SAdd(ctx, r.keysKey(doc.Collection), doc.Key)
			return nil
		})
		return err
	})
}

func (r *RedisRepo) Get(ctx context.Context, collectionID, key string) (*document.Document, error) {
	b, err := r.client.Get(ctx, r.docKey(collectionID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			if cerr := r.requireCollection(ctx, collectionID); cerr != nil {
				return nil, cerr
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRedisDocument(collectionID, key, b)
}

func (r *RedisRepo) List(ctx context.Context, collectionID string) ([]*document.Document, error) {
	if err := r.requireCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	keys, err := r.client.SMembers(ctx, r.keysKey(collectionID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(keys))
	for _, k := range keys {
		d, err := r.Get(ctx, collectionID, k)
		if errors.Is(err, ErrNotFound) {
			// removed since SMEMBERS
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sortDocuments(out)
	return out, nil
}

func (r *RedisRepo) Replace(ctx context.Context, doc *document.Document, match string) (*document.Document, error) {
	doc.UpdatedAt = time.Now().UTC()
	b, err := encodeRedisDocument(doc)
	if err != nil {
		return nil, err
	}
	key := r.docKey(doc.Collection, doc.Key)
	var prev *document.Document
	err = r.watch(ctx, key, func(tx *redis.Tx) error {
		cur, err := r.current(ctx, tx, doc.Collection, doc.Key)
		if err != nil {
			return err
		}
		prev = cur
		if match != "" && cur.Rev != match {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		return err
	})
	if errors.Is(err, ErrConflict) {
		return prev, err
	}
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (r *RedisRepo) Remove(ctx context.Context, collectionID, key, match string) (*document.Document, error) {
	dk := r.docKey(collectionID, key)
	var prev *document.Document
	err := r.watch(ctx, dk, func(tx *redis.Tx) error {
		cur, err := r.current(ctx, tx, collectionID, key)
		if err != nil {
			return err
		}
		prev = cur
		if match != "" && cur.Rev != match {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, dk)
			pipe.SRem(ctx, r.keysKey(collectionID), key)
			return nil
		})
		return err
	})
	if errors.Is(err, ErrConflict) {
		return prev, err
	}
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// current reads the watched document inside a transaction.
func (r *RedisRepo) current(ctx context.Context, tx *redis.Tx, cid, key string) (*document.Document, error) {
	b, err := tx.Get(ctx, r.docKey(cid, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRedisDocument(cid, key, b)
}
