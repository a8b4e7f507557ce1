// Package migrate runs long batch jobs over sharded tables. A run walks the
// job's collections in id order, records its progress in job snapshots and
// resumes from the latest unfinished snapshot after a crash.
package migrate

import (
	"encoding/json"
	"fmt"
)

// Cursor is the resume position persisted in a snapshot.
type Cursor struct {
	Collection     int    `json:"collection"`
	CollectionName string `json:"collectionName,omitempty"`
	LastID         string `json:"lastId,omitempty"`
	Finished       bool   `json:"finished"`
	// Seen holds the most recent dedup keys, oldest first.
	Seen []string `json:"seen,omitempty"`
}

// JobActionContext is the mutable state of one run.
type JobActionContext struct {
	Name    string
	Success int64
	Failed  int64
	Total   int64
	Cursor  Cursor
	// Resumed is true when the run continues an unfinished snapshot.
	Resumed bool

	seen map[string]struct{}
	// recent lists dedup keys in the order they succeeded, capped at window.
	// Only these are written to snapshots, so a snapshot stays small however
	// long the run; keys older than the window rely on Process being
	// idempotent after a resume.
	recent          []string
	window          int
	sinceCheckpoint int
}

func newJobActionContext(name string, window int) *JobActionContext {
	return &JobActionContext{Name: name, seen: make(map[string]struct{}), window: window}
}

// Seen reports whether an item with dedup key has already succeeded.
func (jc *JobActionContext) Seen(key string) bool {
	_, ok := jc.seen[key]
	return ok
}

func (jc *JobActionContext) markSeen(key string) {
	jc.seen[key] = struct{}{}
	jc.remember(key)
}

func (jc *JobActionContext) remember(key string) {
	if jc.window <= 0 {
		return
	}
	if len(jc.recent) == jc.window {
		copy(jc.recent, jc.recent[1:])
		jc.recent = jc.recent[:jc.window-1]
	}
	jc.recent = append(jc.recent, key)
}

func (jc *JobActionContext) encode() ([]byte, error) {
	c := jc.Cursor
	c.Seen = jc.recent
	return json.Marshal(c)
}

func (jc *JobActionContext) decode(data []byte) error {
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("decode cursor of %s: %w", jc.Name, err)
	}
	for _, k := range c.Seen {
		jc.seen[k] = struct{}{}
		jc.remember(k)
	}
	c.Seen = nil
	jc.Cursor = c
	return nil
}
