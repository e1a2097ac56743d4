package domain

import "time"

// Entry is one archived outcome. ScriptPath is set only for outcomes that
// carried a script.
type Entry struct {
	JobID      string    `json:"job_id"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	ScriptPath string    `json:"script_path,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	ArchivedAt time.Time `json:"archived_at"`
}
