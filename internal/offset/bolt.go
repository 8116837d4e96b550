package offset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

const bucketName = "offsets"

// BoltStore keeps positions as JSON values in a bbolt bucket keyed by file id.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another shipper): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	logrus.WithField("file", dbPath).Debug("Opened bolt offset store")
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context) (Record, error) {
	record := Record{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var pos internal.Position
			if err := json.Unmarshal(v, &pos); err != nil {
				logrus.WithField("id", string(k)).WithError(err).Warn("skipping corrupt offset entry")
				return nil
			}
			record[string(k)] = pos
			return nil
		})
	})
	if err != nil {
		logrus.WithError(err).Warn("could not read bolt offsets, starting from offset 0")
		return Record{}, nil
	}
	return record, nil
}

func (s *BoltStore) Commit(_ context.Context, id string, pos internal.Position) error {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	val, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(id), val)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *BoltStore) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	var removed int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var pos internal.Position
			if err := json.Unmarshal(v, &pos); err != nil || pos.UpdatedAt.Before(olderThan) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return removed, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
