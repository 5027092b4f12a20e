package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const (
	recordBucketName = "records"
	stateBucketName  = "state"

	checkpointKey = "last_scan"
)

// DB defines the interface for ledger operations
type DB interface {
	// SaveRecord saves a record to the ledger
	SaveRecord(record *Record) error

	// GetRecord retrieves a record by ID
	GetRecord(id string) (*Record, error)

	// HasRecord reports whether a record exists for the given ID
	HasRecord(id string) (bool, error)

	// ListRecords returns all records
	ListRecords() ([]*Record, error)

	// ListUnprocessed returns records the detector has not examined yet
	ListUnprocessed() ([]*Record, error)

	// ListPendingUpload returns detected documents that were never sent
	ListPendingUpload() ([]*Record, error)

	// DeleteRecord removes a record from the ledger
	DeleteRecord(id string) error

	// DeleteOlderThan removes records added strictly before cutoff,
	// regardless of their processed/sent state, and returns how many
	DeleteOlderThan(cutoff time.Time) (int, error)

	// Checkpoint returns the last-scan boundary (zero time when unset)
	Checkpoint() (time.Time, error)

	// SetCheckpoint stores the last-scan boundary
	SetCheckpoint(t time.Time) error

	// Close closes the ledger
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(stateBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveRecord saves a record to the ledger
func (b *BoltDB) SaveRecord(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetRecord retrieves a record by ID
func (b *BoltDB) GetRecord(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// HasRecord reports whether a record exists for the given ID
func (b *BoltDB) HasRecord(id string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		found = bucket.Get([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ListRecords returns all records
func (b *BoltDB) ListRecords() ([]*Record, error) {
	return b.listWhere(func(*Record) bool { return true })
}

// ListUnprocessed returns records the detector has not examined yet
func (b *BoltDB) ListUnprocessed() ([]*Record, error) {
	return b.listWhere(func(r *Record) bool { return !r.Processed })
}

// ListPendingUpload returns detected documents that were never sent
func (b *BoltDB) ListPendingUpload() ([]*Record, error) {
	return b.listWhere(func(r *Record) bool {
		return r.Processed && r.IsDocument && !r.Sent
	})
}

func (b *BoltDB) listWhere(match func(*Record) bool) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if match(&record) {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecord removes a record from the ledger
func (b *BoltDB) DeleteRecord(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		return bucket.Delete([]byte(id))
	})
}

// DeleteOlderThan removes records added strictly before cutoff
func (b *BoltDB) DeleteOlderThan(cutoff time.Time) (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if record.DateAdded.Before(cutoff) {
				if err := cursor.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Checkpoint returns the last-scan boundary (zero time when unset)
func (b *BoltDB) Checkpoint() (time.Time, error) {
	var checkpoint time.Time
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucketName))
		data := bucket.Get([]byte(checkpointKey))
		if data == nil {
			return nil
		}
		millis, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("parsing checkpoint: %w", err)
		}
		checkpoint = time.UnixMilli(millis)
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return checkpoint, nil
}

// SetCheckpoint stores the last-scan boundary
func (b *BoltDB) SetCheckpoint(t time.Time) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucketName))
		return bucket.Put([]byte(checkpointKey), []byte(strconv.FormatInt(t.UnixMilli(), 10)))
	})
}

// Close closes the ledger
func (b *BoltDB) Close() error {
	return b.db.Close()
}
