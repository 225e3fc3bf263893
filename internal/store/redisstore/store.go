package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Cache keeps one JSON document per sync family.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Cache returns a syncqueue.Cache backed by this store. A zero ttl keeps
// families until they are replaced.
func (s *Store) Cache(ttl time.Duration) *Cache {
	return &Cache{rdb: s.rdb, ttl: ttl}
}

func familyKey(fam syncqueue.Family) string {
	return fmt.Sprintf("sync:family:%d:%s", fam.OwnerID, fam.EntityType)
}

func (c *Cache) ReplaceOrMergeFamily(ctx context.Context, fam syncqueue.Family, items []syncqueue.Item) error {
	if items == nil {
		items = []syncqueue.Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	// one SET replaces the family atomically for readers
	return c.rdb.Set(ctx, familyKey(fam), b, c.ttl).Err()
}

func (c *Cache) Current(ctx context.Context, fam syncqueue.Family) ([]syncqueue.Item, error) {
	b, err := c.rdb.Get(ctx, familyKey(fam)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []syncqueue.Item{}, nil
	}
	if err != nil {
		return nil, err
	}
	var items []syncqueue.Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("redisstore: decode family %s: %w", fam, err)
	}
	return items, nil
}
