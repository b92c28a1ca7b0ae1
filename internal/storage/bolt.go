package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/vector"
)

// Ordered collections keep two buckets: seq -> value for iteration order and id -> seq for upserts.
var (
	bucketEmbeddings   = []byte("embeddings")
	bucketEmbeddingSeq = []byte("embedding_seq")
	bucketNodes        = []byte("nodes")
	bucketNodeSeq      = []byte("node_seq")
	bucketLinks        = []byte("links")
	bucketPairs        = []byte("pairs")
	bucketPairSeq      = []byte("pair_seq")
	bucketSources      = []byte("sources")

	allBuckets = [][]byte{
		bucketEmbeddings, bucketEmbeddingSeq, bucketNodes, bucketNodeSeq,
		bucketLinks, bucketPairs, bucketPairSeq, bucketSources,
	}
)

type boltEmbedding struct {
	ID     string `json:"id"`
	Vector []byte `json:"vector"`
}

// BoltStorage implements Storage on a bbolt file.
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage opens or creates a bbolt database at path.
func NewBoltStorage(path string) (*BoltStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// putOrdered stores value under id, reusing id's sequence key if it already has one.
func putOrdered(tx *bbolt.Tx, data, index []byte, id string, value []byte) error {
	db, ib := tx.Bucket(data), tx.Bucket(index)
	key := ib.Get([]byte(id))
	if key == nil {
		n, err := db.NextSequence()
		if err != nil {
			return err
		}
		key = seqKey(n)
		if err := ib.Put([]byte(id), key); err != nil {
			return err
		}
	}
	return db.Put(key, value)
}

func deleteOrdered(tx *bbolt.Tx, data, index []byte, id string) error {
	ib := tx.Bucket(index)
	key := ib.Get([]byte(id))
	if key == nil {
		return nil
	}
	key = append([]byte(nil), key...)
	if err := ib.Delete([]byte(id)); err != nil {
		return err
	}
	return tx.Bucket(data).Delete(key)
}

func (s *BoltStorage) SaveEmbeddings(ctx context.Context, set *models.EmbeddingSet) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		set.Each(func(id string, e models.Embedding) bool {
			var data []byte
			data, err = json.Marshal(boltEmbedding{ID: id, Vector: vector.EncodeVector(e)})
			if err == nil {
				err = putOrdered(tx, bucketEmbeddings, bucketEmbeddingSeq, id, data)
			}
			return err == nil
		})
		return err
	})
}

func (s *BoltStorage) LoadEmbeddings(ctx context.Context) (*models.EmbeddingSet, error) {
	set := models.NewEmbeddingSet()
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).ForEach(func(_, v []byte) error {
			var rec boltEmbedding
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			vec, err := vector.DecodeVector(rec.Vector)
			if err != nil {
				return fmt.Errorf("embedding %s: %w", rec.ID, err)
			}
			set.Put(rec.ID, vec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (s *BoltStorage) SaveNodes(ctx context.Context, nodes []models.Node) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, n := range nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return err
			}
			if err := putOrdered(tx, bucketNodes, bucketNodeSeq, n.ID, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStorage) LoadNodes(ctx context.Context) ([]models.Node, error) {
	var nodes []models.Node
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n models.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			nodes = append(nodes, n)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStorage) ReplaceLinks(ctx context.Context, links []models.Link) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketLinks); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketLinks)
		if err != nil {
			return err
		}
		for _, l := range links {
			data, err := json.Marshal(l)
			if err != nil {
				return err
			}
			n, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(n), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStorage) LoadLinks(ctx context.Context) ([]models.Link, error) {
	var links []models.Link
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLinks).ForEach(func(_, v []byte) error {
			var l models.Link
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			links = append(links, l)
			return nil
		})
	})
	return links, err
}

func (s *BoltStorage) SavePairs(ctx context.Context, pairs []models.Pair) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, p := range pairs {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := putOrdered(tx, bucketPairs, bucketPairSeq, models.PairKey(p.ID1, p.ID2), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStorage) LoadPairs(ctx context.Context) ([]models.Pair, error) {
	var pairs []models.Pair
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPairs).ForEach(func(_, v []byte) error {
			var p models.Pair
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			pairs = append(pairs, p)
			return nil
		})
	})
	return pairs, err
}

func (s *BoltStorage) SaveSource(ctx context.Context, path string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSources).Put([]byte(path), data)
	})
}

func (s *BoltStorage) SourceIDs(ctx context.Context, path string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSources).Get([]byte(path))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &ids)
	})
	return ids, err
}

func (s *BoltStorage) DeleteSource(ctx context.Context, path string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSources).Delete([]byte(path))
	})
}

func (s *BoltStorage) DeleteNodes(ctx context.Context, ids []string) error {
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, id := range ids {
			if err := deleteOrdered(tx, bucketNodes, bucketNodeSeq, id); err != nil {
				return err
			}
			if err := deleteOrdered(tx, bucketEmbeddings, bucketEmbeddingSeq, id); err != nil {
				return err
			}
		}
		if err := deleteMatching(tx.Bucket(bucketLinks), func(v []byte) (bool, error) {
			var l models.Link
			if err := json.Unmarshal(v, &l); err != nil {
				return false, err
			}
			return l.Touches(remove), nil
		}); err != nil {
			return err
		}
		return deletePairsTouching(tx, remove)
	})
}

// DeletePairs removes every stored score involving one of ids.
func (s *BoltStorage) DeletePairs(ctx context.Context, ids []string) error {
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deletePairsTouching(tx, remove)
	})
}

func deletePairsTouching(tx *bbolt.Tx, remove map[string]struct{}) error {
	var stale []string
	err := tx.Bucket(bucketPairs).ForEach(func(_, v []byte) error {
		var p models.Pair
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		_, a := remove[p.ID1]
		_, b := remove[p.ID2]
		if a || b {
			stale = append(stale, models.PairKey(p.ID1, p.ID2))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := deleteOrdered(tx, bucketPairs, bucketPairSeq, key); err != nil {
			return err
		}
	}
	return nil
}

// deleteMatching removes every key of b whose value matches. Keys are collected first
// since bbolt cursors must not delete while iterating with ForEach.
func deleteMatching(b *bbolt.Bucket, match func(v []byte) (bool, error)) error {
	var keys [][]byte
	err := b.ForEach(func(k, v []byte) error {
		ok, err := match(v)
		if err != nil {
			return err
		}
		if ok {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStorage) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStorage) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, c := range []struct {
			name []byte
			dst  *int64
		}{
			{bucketEmbeddings, &st.Embeddings},
			{bucketNodes, &st.Nodes},
			{bucketLinks, &st.Links},
			{bucketPairs, &st.Pairs},
			{bucketSources, &st.Sources},
		} {
			err := tx.Bucket(c.name).ForEach(func(_, _ []byte) error {
				*c.dst++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return st, err
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}
