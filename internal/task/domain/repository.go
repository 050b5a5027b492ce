package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, t *Task) error
	// Claim marks up to limit due tasks as running. Running tasks locked before
	// staleBefore are reclaimed.
	Claim(ctx context.Context, db *gorm.DB, now, staleBefore time.Time, limit int) ([]Task, error)
	MarkDone(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, runAt time.Time, lastErr string, now time.Time) error
	// Release returns a claimed task to pending and refunds the claim's attempt.
	Release(ctx context.Context, db *gorm.DB, id snowflake.ID, runAt time.Time, lastErr string, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastErr string, now time.Time) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Task, error)
}
