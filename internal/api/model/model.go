package model

import "time"

// Run is one submitted generation job as recorded by the gateway.
// Credentials are never part of it.
type Run struct {
	JobID         string     `db:"job_id"`
	CreatorHandle string     `db:"creator_handle"`
	Topic         string     `db:"topic"`
	Status        string     `db:"status"`
	State         string     `db:"state"`
	Progress      int        `db:"progress"`
	Label         string     `db:"label"`
	Message       string     `db:"message"`
	Script        string     `db:"script"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	FinishedAt    *time.Time `db:"finished_at"`
}
