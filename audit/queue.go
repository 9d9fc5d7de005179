package audit

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QueueEntry is one failed document awaiting human review.
type QueueEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	Record    *Record   `json:"audit"`
	Preview   string    `json:"preview"`
}

// ReviewQueue persists failed audits as a JSON array on disk.
type ReviewQueue struct {
	mu   sync.Mutex
	path string
}

// NewReviewQueue creates a queue backed by the given file.
func NewReviewQueue(path string) *ReviewQueue {
	return &ReviewQueue{path: path}
}

// Append adds an entry to the queue file, creating it if needed.
func (q *ReviewQueue) Append(rec *Record, preview string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.readLocked()
	if err != nil {
		return err
	}
	entries = append(entries, QueueEntry{
		Timestamp: time.Now().UTC(),
		Filename:  rec.Filename,
		Record:    rec,
		Preview:   preview,
	})

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, data, 0o644)
}

// Pending returns the queued entries.
func (q *ReviewQueue) Pending() ([]QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked()
}

func (q *ReviewQueue) readLocked() ([]QueueEntry, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
