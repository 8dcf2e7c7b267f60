// Package buildlog keeps a persistent record of link and package outcomes.
//
// The log answers "what was built last, and did it work" for the status
// command. It plays no part in deciding whether to recompile; that is the
// cache package's job and relies on files next to each object only.
package buildlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DefaultFile is the database file name inside the build directory
	DefaultFile = "xbuild.db"

	// bucketName is the BoltDB bucket name for build entries
	bucketName = "builds"
)

// Entry is the outcome of building one project in one context.
type Entry struct {
	Project   string        `json:"project"`
	Context   string        `json:"context"`
	Kind      string        `json:"kind"`
	Artifact  string        `json:"artifact,omitempty"`
	Digest    string        `json:"digest,omitempty"`
	Compiled  int           `json:"compiled"`
	Reused    int           `json:"reused"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Key is the database key of e.
func (e Entry) Key() string {
	return key(e.Project, e.Context)
}

func key(project, context string) string {
	return project + "@" + context
}

// Log is a BoltDB-backed build log.
type Log struct {
	db   *bbolt.DB
	path string
}

// Open opens (creating if needed) the build log in dir
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	path := filepath.Join(dir, DefaultFile)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open build log: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create build log bucket: %w", err)
	}

	return &Log{db: db, path: path}, nil
}

// Path returns the database file path
func (l *Log) Path() string {
	return l.path
}

// Close closes the build log database
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}

	return nil
}

// Record stores e, replacing any earlier entry for the same project and context.
func (l *Log) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	err = l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(e.Key()), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store build entry: %w", err)
	}

	return nil
}

// Get returns the entry for project in context, or nil if there is none.
func (l *Log) Get(project, context string) (*Entry, error) {
	var entry *Entry

	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key(project, context)))
		if data == nil {
			return nil
		}

		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// List returns every entry in key order.
func (l *Log) List() ([]Entry, error) {
	var entries []Entry

	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Clear removes all entries
func (l *Log) Clear() error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}

		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

// Prune removes every entry whose context starts with prefix and returns how many went.
func (l *Log) Prune(prefix string) (int, error) {
	var removed int

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			if strings.HasPrefix(e.Context, prefix) {
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

		removed = len(keys)

		return nil
	})

	return removed, err
}

// Stats returns the number of entries and how many of them failed
func (l *Log) Stats() (int, int, error) {
	var total, failed int

	entries, err := l.List()
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		total++
		if !e.Success {
			failed++
		}
	}

	return total, failed, nil
}
