package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements ThreadStore using a BoltDB backend. Threads are kept in a "threads" bucket, and
// the messages of each thread in a bucket of their own, keyed by insertion sequence.
type BoltDB struct {
	db *bolt.DB
}

type boltThread struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

var threadsBucket = []byte("threads")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(threadsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return BoltDB{}, fmt.Errorf("failed to create threads bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

func messageBucketName(threadID string) []byte {
	return []byte(fmt.Sprintf("thread-%s", threadID))
}

// Close closes the underlying database.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// AddThread stores a new thread record and creates its message bucket.
func (b BoltDB) AddThread(_ context.Context, threadID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messageBucketName(threadID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(boltThread{ID: threadID, CreatedAt: time.Now()})
		if err != nil {
			return fmt.Errorf("failed to marshal thread: %w", err)
		}

		return tx.Bucket(threadsBucket).Put([]byte(threadID), v)
	})
}

// Messages retrieves all messages of the thread in their stored order. It returns ErrThreadNotFound if
// the thread was never added.
func (b BoltDB) Messages(_ context.Context, threadID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(threadID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}

		return b.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the thread. Keys are big-endian sequence numbers, so iteration
// order is insertion order.
func (b BoltDB) AddMessage(_ context.Context, threadID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(threadID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return b.Put(key, v)
	})
}
