package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gympoint/gympoint-api/internal/models"
	"github.com/gympoint/gympoint-api/pkg/clock"
	appErrors "github.com/gympoint/gympoint-api/pkg/errors"
	"github.com/gympoint/gympoint-api/pkg/lock"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsActiveByStudent(ctx context.Context, studentID, excludeID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Update(ctx context.Context, enrollment *models.Enrollment) error
	Cancel(ctx context.Context, id string, canceledAt time.Time) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type planReader interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
}

type notificationDispatcher interface {
	Dispatch(event NotificationEvent)
}

// enrollmentDateFormat renders membership window dates in notifications.
const enrollmentDateFormat = "January 02, 2006"

// CreateEnrollmentRequest describes the enrollment creation payload.
type CreateEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	PlanID    string `json:"plan_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
}

// UpdateEnrollmentRequest describes the enrollment update payload. StudentID
// must match the enrollment on file; enrollments cannot change owner.
type UpdateEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	PlanID    string `json:"plan_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
}

// EnrollmentService owns the enrollment lifecycle: derived validity window
// and price, the single-active-enrollment invariant, and the no-back-dating
// rule.
type EnrollmentService struct {
	repo          enrollmentRepository
	students      studentReader
	plans         planReader
	notifications notificationDispatcher
	locker        lock.Locker
	lockTTL       time.Duration
	clock         clock.Clock
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, plans planReader, notifications notificationDispatcher, locker lock.Locker, lockTTL time.Duration, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
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
	return &EnrollmentService{
		repo:          repo,
		students:      students,
		plans:         plans,
		notifications: notifications,
		locker:        locker,
		lockTTL:       lockTTL,
		clock:         clk,
		validator:     validate,
		logger:        logger,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns a single enrollment with student and plan context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Create registers a membership for a student. The validity window and price
// are derived from the plan; the write runs under the student's lock so two
// concurrent creations cannot both pass the active-enrollment check.
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest, createdBy string) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	startDate, err := parseStartDate(req.StartDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start date")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	plan, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if err := s.rejectPastStart(startDate); err != nil {
		return nil, err
	}

	token, err := s.locker.Acquire(ctx, studentLockKey(student.ID), s.lockTTL)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	defer s.release(studentLockKey(student.ID), token)

	exists, err := s.repo.ExistsActiveByStudent(ctx, student.ID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an active enrollment")
	}

	enrollment := &models.Enrollment{
		StudentID: student.ID,
		PlanID:    plan.ID,
		StartDate: startDate,
		EndDate:   deriveEndDate(startDate, plan.DurationMonths),
		Price:     derivePrice(plan.Price, plan.DurationMonths),
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.notify(models.NotificationWelcome, student, plan, enrollment)

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Update rewrites the plan and start date of an enrollment, re-deriving the
// window and price. The owning student is immutable.
func (s *EnrollmentService) Update(ctx context.Context, id string, req UpdateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	startDate, err := parseStartDate(req.StartDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start date")
	}

	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if req.StudentID != enrollment.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment cannot be reassigned to another student")
	}
	plan, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if err := s.rejectPastStart(startDate); err != nil {
		return nil, err
	}

	token, err := s.locker.Acquire(ctx, studentLockKey(enrollment.StudentID), s.lockTTL)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	defer s.release(studentLockKey(enrollment.StudentID), token)

	enrollment.PlanID = plan.ID
	enrollment.StartDate = startDate
	enrollment.EndDate = deriveEndDate(startDate, plan.DurationMonths)
	enrollment.Price = derivePrice(plan.Price, plan.DurationMonths)
	if err := s.repo.Update(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	student, err := s.students.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		s.logger.Warn("failed to load student for update notification", zap.String("enrollment_id", id), zap.Error(err))
	} else {
		s.notify(models.NotificationUpdated, student, plan, enrollment)
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Cancel soft-deletes an enrollment, freeing the student for a new one.
// canceled_at is written once; canceled enrollments stay canceled.
func (s *EnrollmentService) Cancel(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.Active() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already canceled")
	}

	token, err := s.locker.Acquire(ctx, studentLockKey(enrollment.StudentID), s.lockTTL)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	defer s.release(studentLockKey(enrollment.StudentID), token)

	if err := s.repo.Cancel(ctx, id, s.clock.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// rejectPastStart enforces the no-back-dating rule at day granularity.
// Same-day starts are permitted.
func (s *EnrollmentService) rejectPastStart(startDate time.Time) error {
	today := startOfDay(s.clock.Now())
	if startOfDay(startDate).Before(today) {
		return appErrors.Clone(appErrors.ErrInvalidDate, "start date cannot be in the past")
	}
	return nil
}

func (s *EnrollmentService) notify(kind models.NotificationKind, student *models.Student, plan *models.Plan, enrollment *models.Enrollment) {
	s.notifications.Dispatch(NotificationEvent{
		Kind:         kind,
		StudentID:    student.ID,
		StudentName:  student.Name,
		StudentEmail: student.Email,
		PlanTitle:    plan.Title,
		StartDate:    enrollment.StartDate.Format(enrollmentDateFormat),
		EndDate:      enrollment.EndDate.Format(enrollmentDateFormat),
		Price:        enrollment.Price,
	})
}

func (s *EnrollmentService) release(key, token string) {
	if err := s.locker.Release(context.Background(), key, token); err != nil {
		s.logger.Warn("failed to release student lock", zap.String("key", key), zap.Error(err))
	}
}

func studentLockKey(studentID string) string {
	return "lock:student:" + studentID
}

func parseStartDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

// deriveEndDate adds whole plan months to the start date.
func deriveEndDate(startDate time.Time, durationMonths int) time.Time {
	return startDate.AddDate(0, durationMonths, 0)
}

// derivePrice multiplies the monthly plan price by the plan duration.
func derivePrice(monthlyPrice float64, durationMonths int) float64 {
	return monthlyPrice * float64(durationMonths)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
