package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gympoint/gympoint-api/internal/models"
	"github.com/gympoint/gympoint-api/pkg/jobs"
)

type mockNotificationRepo struct {
	mu       sync.Mutex
	items    []models.Notification
	failOnce bool
}

func (m *mockNotificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOnce {
		m.failOnce = false
		return errors.New("transient write failure")
	}
	m.items = append(m.items, *notification)
	return nil
}

func (m *mockNotificationRepo) ListByStudent(ctx context.Context, studentID string) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.items {
		if n.StudentID == studentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNotificationDispatchPersists(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := NewNotificationService(repo, jobs.QueueConfig{Workers: 1, BufferSize: 8}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Dispatch(NotificationEvent{
		Kind:        models.NotificationWelcome,
		StudentID:   "student-1",
		StudentName: "Ana Souza",
		PlanTitle:   "Gold",
		StartDate:   "January 15, 2024",
		EndDate:     "April 15, 2024",
		Price:       327,
	})

	waitFor(t, func() bool { return repo.count() == 1 })

	feed, err := svc.ListByStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, models.NotificationWelcome, feed[0].Kind)
	assert.Equal(t, "Gold", feed[0].PlanTitle)
	assert.Equal(t, 327.0, feed[0].Price)
}

func TestNotificationDispatchRetriesTransientFailure(t *testing.T) {
	repo := &mockNotificationRepo{failOnce: true}
	svc := NewNotificationService(repo, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 8,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Dispatch(NotificationEvent{Kind: models.NotificationUpdated, StudentID: "student-1"})

	waitFor(t, func() bool { return repo.count() == 1 })
}

func TestNotificationDispatchNeverBlocksWhenFull(t *testing.T) {
	repo := &mockNotificationRepo{}
	// queue never started, so the buffer fills and overflow is dropped
	svc := NewNotificationService(repo, jobs.QueueConfig{Workers: 1, BufferSize: 1}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			svc.Dispatch(NotificationEvent{Kind: models.NotificationWelcome, StudentID: "student-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full queue")
	}
}
