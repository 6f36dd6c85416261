// Package store keeps scan run history in a bbolt database.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"scanwarden/internal/output"
	"scanwarden/internal/scan"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("runs_by_start")
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("scan run not found")

// Store persists scan results. It is also an output.Sink that saves the
// result carried by every terminal event.
type Store struct {
	db     *bbolt.DB
	retain int
}

var _ output.Sink = (*Store)(nil)

type Options struct {
	// Retain caps the number of stored runs; the oldest are pruned on save.
	// Zero keeps everything.
	Retain int
}

func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db, retain: opts.Retain}, nil
}

// indexKey sorts by start time, then run ID.
func indexKey(res *scan.Result) []byte {
	k := make([]byte, 8, 8+len(res.ID))
	binary.BigEndian.PutUint64(k, uint64(res.StartedAt.UnixNano()))
	return append(k, res.ID...)
}

// Save stores res, replacing any earlier record with the same ID.
func (s *Store) Save(res *scan.Result) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("scan result must have an id")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal scan result: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		idx := tx.Bucket(bucketIndex)

		if prev := runs.Get([]byte(res.ID)); prev != nil {
			var old scan.Result
			if err := json.Unmarshal(prev, &old); err == nil {
				if err := idx.Delete(indexKey(&old)); err != nil {
					return err
				}
			}
		}
		if err := runs.Put([]byte(res.ID), data); err != nil {
			return err
		}
		if err := idx.Put(indexKey(res), []byte(res.ID)); err != nil {
			return err
		}
		return s.pruneLocked(runs, idx)
	})
}

func (s *Store) pruneLocked(runs, idx *bbolt.Bucket) error {
	if s.retain <= 0 {
		return nil
	}
	// Stats only sees committed pages, so count inside the transaction.
	c := idx.Cursor()
	n := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	excess := n - s.retain
	if excess <= 0 {
		return nil
	}
	var keys, ids [][]byte
	for k, v := c.First(); k != nil && len(keys) < excess; k, v = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
		ids = append(ids, append([]byte(nil), v...))
	}
	for i := range keys {
		if err := idx.Delete(keys[i]); err != nil {
			return err
		}
		if err := runs.Delete(ids[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(id string) (*scan.Result, error) {
	var res *scan.Result
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		res = &scan.Result{}
		return json.Unmarshal(data, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Recent returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) Recent(limit int) ([]*scan.Result, error) {
	out := []*scan.Result{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		c := tx.Bucket(bucketIndex).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			data := runs.Get(v)
			if data == nil {
				continue
			}
			var res scan.Result
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("decode run %s: %w", v, err)
			}
			out = append(out, &res)
		}
		return nil
	})
	return out, err
}

func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRuns).Stats().KeyN
		return nil
	})
	return n, err
}

// Write saves the result of terminal events and ignores everything else.
func (s *Store) Write(v any) error {
	e, ok := v.(output.Event)
	if !ok || !e.Terminal() || e.Result == nil {
		return nil
	}
	return s.Save(e.Result)
}

// Close is a no-op so the store can outlive a per-run sink manager.
// Use Shutdown to release the database.
func (s *Store) Close() error {
	return nil
}

func (s *Store) Shutdown() error {
	return s.db.Close()
}
