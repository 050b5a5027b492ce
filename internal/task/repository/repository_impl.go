package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/task/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, t *domain.Task) error {
	return db.WithContext(ctx).Create(t).Error
}

const claimableWhere = `((status = ? AND run_at <= ?) OR (status = ? AND locked_at < ?))`

// Claim selects candidates then flips each with a guarded UPDATE, so a row
// raced by another worker is skipped rather than double-run.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, now, staleBefore time.Time, limit int) ([]domain.Task, error) {
	var claimed []domain.Task
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []domain.Task
		err := tx.Model(&domain.Task{}).
			Where(claimableWhere, domain.StatusPending, now, domain.StatusRunning, staleBefore).
			Order("run_at asc, id asc").
			Limit(limit).
			Find(&candidates).Error
		if err != nil {
			return err
		}

		for _, t := range candidates {
			res := tx.Exec(
				`UPDATE tasks
				 SET status = ?, locked_at = ?, attempts = attempts + 1, updated_at = ?
				 WHERE id = ? AND `+claimableWhere,
				domain.StatusRunning, now, now,
				t.ID,
				domain.StatusPending, now, domain.StatusRunning, staleBefore,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			t.Status = domain.StatusRunning
			t.LockedAt = &now
			t.Attempts++
			t.UpdatedAt = now
			claimed = append(claimed, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repo) MarkDone(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tasks SET status = ?, locked_at = NULL, last_error = '', updated_at = ? WHERE id = ?`,
		domain.StatusDone, now, id,
	).Error
}

func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, runAt time.Time, lastErr string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tasks SET status = ?, run_at = ?, locked_at = NULL, last_error = ?, updated_at = ? WHERE id = ?`,
		domain.StatusPending, runAt, lastErr, now, id,
	).Error
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, id snowflake.ID, runAt time.Time, lastErr string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tasks
		 SET status = ?, run_at = ?, locked_at = NULL, attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.StatusPending, runAt, lastErr, now, id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastErr string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tasks SET status = ?, locked_at = NULL, last_error = ?, updated_at = ? WHERE id = ?`,
		domain.StatusFailed, lastErr, now, id,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Task, error) {
	var items []domain.Task
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
