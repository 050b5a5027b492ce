package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Task is a persisted unit of deferred work. Delivery is at-least-once, so
// handlers must tolerate repeats.
type Task struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Kind        string         `gorm:"not null;index" json:"kind"`
	Payload     datatypes.JSON `json:"payload"`
	Status      string         `gorm:"not null;index:idx_tasks_due,priority:1" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"not null;default:5" json:"max_attempts"`
	RunAt       time.Time      `gorm:"not null;index:idx_tasks_due,priority:2" json:"run_at"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }
