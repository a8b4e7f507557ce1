package models

import "time"

// JobSnapshot is one checkpoint of a named batch job.
type JobSnapshot struct {
	ID          int64
	Name        string
	CreatedBy   string
	CreatedDate time.Time
	Success     int64
	Failed      int64
	Total       int64
	// Data is the job's serialized resume cursor.
	Data []byte
}
