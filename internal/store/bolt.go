package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cimonitor/cimonitor/internal/status"
)

// bucketStatuses holds one nested bucket per project. Its own sequence is the
// global status ID counter.
var bucketStatuses = []byte("statuses")

// Bolt is a History backed by a bbolt file.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBolt opens (or creates) the database at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketStatuses); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketStatuses, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db, now: time.Now}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) AppendIfChanged(_ context.Context, projectID string, st status.Status) (status.Status, bool, error) {
	var (
		out     status.Status
		written bool
	)
	err := b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketStatuses)
		pb, err := root.CreateBucketIfNotExists([]byte(projectID))
		if err != nil {
			return fmt.Errorf("project bucket %s: %w", projectID, err)
		}

		if k, v := pb.Cursor().Last(); k != nil {
			var last status.Status
			if err := json.Unmarshal(v, &last); err != nil {
				return fmt.Errorf("decode status %d: %w", btoi(k), err)
			}
			if last.SameAs(st) {
				out = last
				return nil
			}
		}

		id, err := root.NextSequence()
		if err != nil {
			return err
		}
		st.ID = int64(id)
		st.ProjectID = projectID
		st.RecordedAt = b.now()
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if err := pb.Put(itob(st.ID), data); err != nil {
			return err
		}
		out, written = st, true
		return nil
	})
	if err != nil {
		return status.Status{}, false, err
	}
	return out, written, nil
}

func (b *Bolt) LastStatus(_ context.Context, projectID string) (*status.Status, error) {
	var found *status.Status
	err := b.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketStatuses).Bucket([]byte(projectID))
		if pb == nil {
			return nil
		}
		k, v := pb.Cursor().Last()
		if k == nil {
			return nil
		}
		var st status.Status
		if err := json.Unmarshal(v, &st); err != nil {
			return err
		}
		found = &st
		return nil
	})
	return found, err
}

func (b *Bolt) StatusesSince(_ context.Context, projectID string, sinceID int64) ([]status.Status, error) {
	out := []status.Status{}
	err := b.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketStatuses).Bucket([]byte(projectID))
		if pb == nil {
			return nil
		}
		if sinceID < 0 {
			sinceID = 0
		}
		c := pb.Cursor()
		for k, v := c.Seek(itob(sinceID)); k != nil; k, v = c.Next() {
			var st status.Status
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			out = append(out, st)
		}
		return nil
	})
	return out, err
}

func (b *Bolt) LastGreen(_ context.Context, projectID string) (*status.Status, error) {
	var found *status.Status
	err := b.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketStatuses).Bucket([]byte(projectID))
		if pb == nil {
			return nil
		}
		c := pb.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var st status.Status
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if st.Green() {
				found = &st
				return nil
			}
		}
		return nil
	})
	return found, err
}

// itob encodes id big-endian so byte order equals numeric order.
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
