package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gympoint/gympoint-api/internal/models"
)

// CheckinRepository handles persistence of check-in events.
type CheckinRepository struct {
	db *sqlx.DB
}

// NewCheckinRepository constructs the repository.
func NewCheckinRepository(db *sqlx.DB) *CheckinRepository {
	return &CheckinRepository{db: db}
}

// Create persists a new check-in event.
func (r *CheckinRepository) Create(ctx context.Context, checkin *models.Checkin) error {
	if checkin.ID == "" {
		checkin.ID = uuid.NewString()
	}
	const query = `INSERT INTO checkins (id, student_id, created_at) VALUES (:id, :student_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, checkin); err != nil {
		return fmt.Errorf("create checkin: %w", err)
	}
	return nil
}

// ListByStudentInRange returns check-ins for a student between from and to
// inclusive, oldest first.
func (r *CheckinRepository) ListByStudentInRange(ctx context.Context, studentID string, from, to time.Time) ([]models.Checkin, error) {
	const query = `SELECT id, student_id, created_at FROM checkins
        WHERE student_id = $1 AND created_at BETWEEN $2 AND $3 ORDER BY created_at ASC`
	var checkins []models.Checkin
	if err := r.db.SelectContext(ctx, &checkins, query, studentID, from, to); err != nil {
		return nil, fmt.Errorf("list checkins in range: %w", err)
	}
	return checkins, nil
}

// ListByStudent returns the full check-in history, newest first.
func (r *CheckinRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Checkin, error) {
	const query = `SELECT id, student_id, created_at FROM checkins WHERE student_id = $1 ORDER BY created_at DESC`
	var checkins []models.Checkin
	if err := r.db.SelectContext(ctx, &checkins, query, studentID); err != nil {
		return nil, fmt.Errorf("list checkins: %w", err)
	}
	return checkins, nil
}
