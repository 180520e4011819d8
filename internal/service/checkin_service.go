package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gympoint/gympoint-api/internal/models"
	"github.com/gympoint/gympoint-api/pkg/clock"
	appErrors "github.com/gympoint/gympoint-api/pkg/errors"
	"github.com/gympoint/gympoint-api/pkg/export"
	"github.com/gympoint/gympoint-api/pkg/lock"
)

type checkinRepository interface {
	Create(ctx context.Context, checkin *models.Checkin) error
	ListByStudentInRange(ctx context.Context, studentID string, from, to time.Time) ([]models.Checkin, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Checkin, error)
}

type enrollmentLister interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

// DefaultWeeklyCheckinLimit caps gym visits per calendar week.
const DefaultWeeklyCheckinLimit = 5

// CheckinRequest carries the caller-declared identity. It must match the
// path student id; anything else is rejected as unauthorized.
type CheckinRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// CheckinService decides admit or reject for gym check-in attempts: the
// membership window test plus weekly and daily quota bookkeeping. Day and
// week boundaries are calendar boundaries (midnight to midnight, weeks
// starting Sunday), not rolling 24-hour or 7-day windows.
type CheckinService struct {
	repo        checkinRepository
	enrollments enrollmentLister
	students    studentReader
	locker      lock.Locker
	lockTTL     time.Duration
	clock       clock.Clock
	weeklyLimit int
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCheckinService constructs the check-in service.
func NewCheckinService(repo checkinRepository, enrollments enrollmentLister, students studentReader, locker lock.Locker, lockTTL time.Duration, clk clock.Clock, weeklyLimit int, validate *validator.Validate, logger *zap.Logger) *CheckinService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if weeklyLimit <= 0 {
		weeklyLimit = DefaultWeeklyCheckinLimit
	}
	return &CheckinService{
		repo:        repo,
		enrollments: enrollments,
		students:    students,
		locker:      locker,
		lockTTL:     lockTTL,
		clock:       clk,
		weeklyLimit: weeklyLimit,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		validator:   validate,
		logger:      logger,
	}
}

// Attempt admits or rejects a check-in for the student in the path. The
// quota reads and the event write run under the student's lock so two
// concurrent attempts cannot both take the last quota slot.
func (s *CheckinService) Attempt(ctx context.Context, studentID string, req CheckinRequest) (*models.Checkin, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-in payload")
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if req.StudentID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "check-in identity does not match the student")
	}

	token, err := s.locker.Acquire(ctx, studentLockKey(student.ID), s.lockTTL)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	defer s.releaseLock(studentLockKey(student.ID), token)

	now := s.clock.Now()

	if err := s.checkMembershipWindow(ctx, student.ID, now); err != nil {
		return nil, err
	}

	weekStart, weekEnd := weekBounds(now)
	weekCheckins, err := s.repo.ListByStudentInRange(ctx, student.ID, weekStart, weekEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load weekly check-ins")
	}
	if len(weekCheckins) >= s.weeklyLimit {
		return nil, appErrors.Clone(appErrors.ErrQuotaExceeded, fmt.Sprintf("student already checked in %d times this week", s.weeklyLimit))
	}
	for _, c := range weekCheckins {
		if sameDay(c.CreatedAt, now) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyCheckedIn, "student already checked in today")
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check-in aborted")
	}

	checkin := &models.Checkin{StudentID: student.ID, CreatedAt: now}
	if err := s.repo.Create(ctx, checkin); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record check-in")
	}
	return checkin, nil
}

// History returns the student's check-ins, newest first.
func (s *CheckinService) History(ctx context.Context, studentID string) ([]models.Checkin, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	checkins, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list check-ins")
	}
	return checkins, nil
}

// ExportHistory renders the check-in history as CSV or PDF bytes.
func (s *CheckinService) ExportHistory(ctx context.Context, studentID, format string) ([]byte, string, error) {
	checkins, err := s.History(ctx, studentID)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{Headers: []string{"#", "Date", "Time"}}
	for i, c := range checkins {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"#":    strconv.Itoa(i + 1),
			"Date": c.CreatedAt.Format("2006-01-02"),
			"Time": c.CreatedAt.Format("15:04"),
		})
	}

	switch format {
	case "csv", "":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	case "pdf":
		payload, err := s.pdf.Render(dataset, "Check-in history")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// checkMembershipWindow requires now to fall inside the inclusive day range
// of every non-canceled enrollment; students without enrollments cannot
// check in.
func (s *CheckinService) checkMembershipWindow(ctx context.Context, studentID string, now time.Time) error {
	enrollments, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	if len(enrollments) == 0 {
		return appErrors.Clone(appErrors.ErrOutOfWindow, "student has no active enrollment")
	}
	for _, e := range enrollments {
		if now.Before(startOfDay(e.StartDate)) || now.After(endOfDay(e.EndDate)) {
			return appErrors.Clone(appErrors.ErrOutOfWindow, "check-in date is outside the membership window")
		}
	}
	return nil
}

func (s *CheckinService) releaseLock(key, token string) {
	if err := s.locker.Release(context.Background(), key, token); err != nil {
		s.logger.Warn("failed to release student lock", zap.String("key", key), zap.Error(err))
	}
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// weekBounds returns the calendar week containing t, Sunday through the last
// nanosecond of Saturday.
func weekBounds(t time.Time) (time.Time, time.Time) {
	day := startOfDay(t)
	weekStart := day.AddDate(0, 0, -int(day.Weekday()))
	weekEnd := weekStart.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return weekStart, weekEnd
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
