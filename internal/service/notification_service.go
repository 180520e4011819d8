package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gympoint/gympoint-api/internal/models"
	appErrors "github.com/gympoint/gympoint-api/pkg/errors"
	"github.com/gympoint/gympoint-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByStudent(ctx context.Context, studentID string) ([]models.Notification, error)
}

// NotificationEvent carries everything the student-facing message needs.
type NotificationEvent struct {
	Kind         models.NotificationKind
	StudentID    string
	StudentName  string
	StudentEmail string
	PlanTitle    string
	StartDate    string
	EndDate      string
	Price        float64
}

// NotificationService persists enrollment notifications through a background
// queue. Dispatch is fire-and-forget: enrollment writes never wait on it and
// its failures are logged, not propagated.
type NotificationService struct {
	repo   notificationRepository
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService constructs the service and its dispatch queue.
func NewNotificationService(repo notificationRepository, queueCfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, logger: logger}
	if queueCfg.Logger == nil {
		queueCfg.Logger = logger
	}
	s.queue = jobs.NewQueue("notifications", s.handle, queueCfg)
	return s
}

// Start begins queue consumption.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues a notification event. Errors are swallowed after
// logging; a lost notification must not fail the enrollment.
func (s *NotificationService) Dispatch(event NotificationEvent) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(event.Kind),
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("student_id", event.StudentID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// ListByStudent returns the student's notification feed, newest first.
func (s *NotificationService) ListByStudent(ctx context.Context, studentID string) ([]models.Notification, error) {
	notifications, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(NotificationEvent)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	notification := &models.Notification{
		StudentID:    event.StudentID,
		Kind:         event.Kind,
		StudentName:  event.StudentName,
		StudentEmail: event.StudentEmail,
		PlanTitle:    event.PlanTitle,
		StartDate:    event.StartDate,
		EndDate:      event.EndDate,
		Price:        event.Price,
	}
	return s.repo.Create(ctx, notification)
}
