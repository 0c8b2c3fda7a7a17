// Package ratelimit admits requests against per-key minute, hour and day
// windows. Counters are persisted in bbolt; the whole check-and-increment
// runs inside one write transaction, so two concurrent requests for the same
// key can never both pass on a stale count.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/risecrm/apigate/internal/models"
)

var bucketRateCounters = []byte("rate_counters")

// RetryAfterSeconds is returned on every denial regardless of which window
// tripped.
const RetryAfterSeconds = 60

type window struct {
	name     string
	duration time.Duration
}

var windows = []window{
	{"minute", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
}

// counter is the persisted per-(key, window) usage record.
type counter struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// Result is a rate limit decision.
type Result struct {
	Allowed      bool
	DeniedWindow string
	Limits       models.Limits
	RetryAfter   int
}

type Limiter struct {
	db *bolt.DB
}

// Open opens (creating if needed) the counter store at path.
func Open(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create counters directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open counter store: %w", err)
	}
	return db, nil
}

// NewLimiter creates a limiter backed by the given bolt database.
func NewLimiter(db *bolt.DB) (*Limiter, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateCounters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate counters bucket: %w", err)
	}
	return &Limiter{db: db}, nil
}

// Allow checks all three windows for the key and, if every one is below its
// limit, increments them as a single atomic operation. A limit of 0 means
// unlimited for that window. Store errors are returned to the caller: the
// gateway fails closed rather than admitting unmetered traffic.
func (l *Limiter) Allow(keyID int64, limits models.Limits) (*Result, error) {
	result := &Result{
		Allowed:    true,
		Limits:     limits,
		RetryAfter: RetryAfterSeconds,
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateCounters)
		now := time.Now().UTC()

		counters := make([]*counter, len(windows))
		for i, w := range windows {
			c, err := loadCounter(bucket, counterKey(keyID, w.name))
			if err != nil {
				return err
			}
			if now.Sub(c.WindowStart) >= w.duration {
				c.Count = 0
				c.WindowStart = now
			}
			counters[i] = c
		}

		for i, w := range windows {
			limit := limitFor(limits, w.name)
			if limit > 0 && counters[i].Count >= limit {
				result.Allowed = false
				result.DeniedWindow = w.name
				return nil
			}
		}

		for i, w := range windows {
			counters[i].Count++
			if err := storeCounter(bucket, counterKey(keyID, w.name), counters[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate counter store: %w", err)
	}
	return result, nil
}

// Usage returns the current counts for a key without incrementing.
func (l *Limiter) Usage(keyID int64) (map[string]int, error) {
	usage := make(map[string]int, len(windows))

	err := l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateCounters)
		now := time.Now().UTC()

		for _, w := range windows {
			c, err := loadCounter(bucket, counterKey(keyID, w.name))
			if err != nil {
				return err
			}
			if now.Sub(c.WindowStart) >= w.duration {
				c.Count = 0
			}
			usage[w.name] = c.Count
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// Reset clears all counters for a key.
func (l *Limiter) Reset(keyID int64) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateCounters)
		for _, w := range windows {
			if err := bucket.Delete(counterKey(keyID, w.name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func counterKey(keyID int64, window string) []byte {
	return []byte(fmt.Sprintf("%d:%s", keyID, window))
}

func limitFor(limits models.Limits, window string) int {
	switch window {
	case "minute":
		return limits.PerMinute
	case "hour":
		return limits.PerHour
	default:
		return limits.PerDay
	}
}

func loadCounter(bucket *bolt.Bucket, key []byte) (*counter, error) {
	data := bucket.Get(key)
	if data == nil {
		return &counter{WindowStart: time.Now().UTC()}, nil
	}
	c := &counter{}
	if err := json.Unmarshal(data, c); err != nil {
		// Unreadable entry; start a fresh window rather than wedging the key
		return &counter{WindowStart: time.Now().UTC()}, nil
	}
	return c, nil
}

func storeCounter(bucket *bolt.Bucket, key []byte, c *counter) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return bucket.Put(key, data)
}
