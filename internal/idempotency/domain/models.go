package domain

import "time"

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

const AnonymousActor = "anon"

// Record tracks one idempotent request under its composite key.
type Record struct {
	Key         string     `json:"key"`
	Status      string     `json:"status"`
	StatusCode  int        `json:"status_code,omitempty"`
	Body        []byte     `json:"body,omitempty"`
	Retryable   bool       `json:"retryable"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type Response struct {
	StatusCode int
	Body       []byte
}

// Decision is the outcome of Begin. Exactly one of Proceed or Replay is set.
type Decision struct {
	Key      string
	Proceed  bool
	Replay   bool
	Response Response
}
