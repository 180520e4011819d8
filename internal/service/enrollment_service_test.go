package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gympoint/gympoint-api/internal/models"
	"github.com/gympoint/gympoint-api/pkg/clock"
	appErrors "github.com/gympoint/gympoint-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	mu      sync.Mutex
	items   map[string]*models.Enrollment
	details map[string]*models.EnrollmentDetail
	nextID  int

	listResult []models.EnrollmentDetail
	listTotal  int
	listErr    error
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.listResult, m.listTotal, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.details[id]; ok {
		cp := *d
		return &cp, nil
	}
	if e, ok := m.items[id]; ok {
		return &models.EnrollmentDetail{Enrollment: *e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsActiveByStudent(ctx context.Context, studentID, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		if e.StudentID == studentID && e.CanceledAt == nil && e.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]*models.Enrollment)
	}
	m.nextID++
	enrollment.ID = "enroll-" + time.Now().Format("150405") + string(rune('a'+m.nextID))
	cp := *enrollment
	m.items[enrollment.ID] = &cp
	return nil
}

func (m *mockEnrollmentRepo) Update(ctx context.Context, enrollment *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *enrollment
	m.items[enrollment.ID] = &cp
	return nil
}

func (m *mockEnrollmentRepo) Cancel(ctx context.Context, id string, canceledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok || e.CanceledAt != nil {
		return sql.ErrNoRows
	}
	e.CanceledAt = &canceledAt
	return nil
}

type mockStudentReader struct {
	students map[string]*models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type mockPlanReader struct {
	plans map[string]*models.Plan
}

func (m *mockPlanReader) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	if p, ok := m.plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (m *mockDispatcher) Dispatch(event NotificationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockDispatcher) all() []NotificationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]NotificationEvent(nil), m.events...)
}

func newEnrollmentFixture(now time.Time) (*EnrollmentService, *mockEnrollmentRepo, *mockDispatcher) {
	repo := &mockEnrollmentRepo{items: map[string]*models.Enrollment{}}
	students := &mockStudentReader{students: map[string]*models.Student{
		"student-1": {ID: "student-1", Name: "Ana Souza", Email: "ana@example.com"},
		"student-2": {ID: "student-2", Name: "Bruno Lima", Email: "bruno@example.com"},
	}}
	plans := &mockPlanReader{plans: map[string]*models.Plan{
		"plan-gold":    {ID: "plan-gold", Title: "Gold", DurationMonths: 3, Price: 109},
		"plan-diamond": {ID: "plan-diamond", Title: "Diamond", DurationMonths: 6, Price: 89},
	}}
	dispatcher := &mockDispatcher{}
	svc := NewEnrollmentService(repo, students, plans, dispatcher, nil, 0, clock.NewFixed(now), nil, nil)
	return svc, repo, dispatcher
}

func TestEnrollmentCreateDerivesWindowAndPrice(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, dispatcher := newEnrollmentFixture(now)

	detail, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-15",
	}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), detail.StartDate)
	assert.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), detail.EndDate)
	assert.Equal(t, 327.0, detail.Price)
	assert.Equal(t, "user-1", detail.CreatedBy)
	assert.Nil(t, detail.CanceledAt)

	events := dispatcher.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationWelcome, events[0].Kind)
	assert.Equal(t, "student-1", events[0].StudentID)
	assert.Equal(t, "January 15, 2024", events[0].StartDate)
}

func TestEnrollmentCreateUnknownPlan(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	detail, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-missing",
		StartDate: "2024-01-31",
	}, "user-1")
	require.Error(t, err)
	assert.Nil(t, detail)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCreateSameDayStartAllowed(t *testing.T) {
	now := time.Date(2024, 1, 10, 23, 30, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	_, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	assert.NoError(t, err)
}

func TestEnrollmentCreateRejectsPastStart(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 1, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	_, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-09",
	}, "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidDate.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCreateRejectsSecondActive(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	_, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-diamond",
		StartDate: "2024-01-11",
	}, "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCreateConcurrentOnlyOneWins(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, repo, _ := newEnrollmentFixture(now)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), CreateEnrollmentRequest{
				StudentID: "student-1",
				PlanID:    "plan-gold",
				StartDate: "2024-01-10",
			}, "user-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
		}
	}
	assert.Equal(t, 1, succeeded)

	active := 0
	for _, e := range repo.items {
		if e.CanceledAt == nil {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestEnrollmentCreateAllowedAfterCancel(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	first, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), first.ID)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-diamond",
		StartDate: "2024-01-11",
	}, "user-1")
	assert.NoError(t, err)
}

func TestEnrollmentCreateUnknownStudent(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	_, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "nope",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCreateValidationFailure(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	_, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "15-01-2024",
	}, "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentUpdateRederivesWindowAndPrice(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, dispatcher := newEnrollmentFixture(now)

	created, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, UpdateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-diamond",
		StartDate: "2024-02-01",
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), updated.StartDate)
	assert.Equal(t, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), updated.EndDate)
	assert.Equal(t, 534.0, updated.Price)

	events := dispatcher.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.NotificationUpdated, events[1].Kind)
}

func TestEnrollmentUpdateRejectsOwnerChange(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	created, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, UpdateEnrollmentRequest{
		StudentID: "student-2",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentUpdateRejectsPastStart(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	created, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, UpdateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-05",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidDate.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCancelIsIdempotentRejection(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, repo, _ := newEnrollmentFixture(now)

	created, err := svc.Create(context.Background(), CreateEnrollmentRequest{
		StudentID: "student-1",
		PlanID:    "plan-gold",
		StartDate: "2024-01-10",
	}, "user-1")
	require.NoError(t, err)

	canceled, err := svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, canceled.CanceledAt)
	firstStamp := *repo.items[created.ID].CanceledAt

	_, err = svc.Cancel(context.Background(), created.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, firstStamp, *repo.items[created.ID].CanceledAt)
}

func TestEnrollmentCancelUnknown(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newEnrollmentFixture(now)

	_, err := svc.Cancel(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentListPagination(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc, repo, _ := newEnrollmentFixture(now)
	repo.listResult = []models.EnrollmentDetail{{StudentName: "Ana Souza"}}
	repo.listTotal = 41

	items, pagination, err := svc.List(context.Background(), models.EnrollmentFilter{Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 3, pagination.Page)
	assert.Equal(t, 10, pagination.PageSize)
	assert.Equal(t, 41, pagination.TotalCount)
}

func TestDeriveEndDateWholeMonths(t *testing.T) {
	cases := []struct {
		start  string
		months int
		want   string
	}{
		{"2024-01-01", 1, "2024-02-01"},
		{"2024-01-15", 3, "2024-04-15"},
		{"2024-11-30", 3, "2025-03-02"},
		{"2024-01-31", 1, "2024-03-02"},
	}
	for _, tc := range cases {
		start, err := time.Parse("2006-01-02", tc.start)
		require.NoError(t, err)
		got := deriveEndDate(start, tc.months)
		assert.Equal(t, tc.want, got.Format("2006-01-02"), "start %s + %d months", tc.start, tc.months)
	}
}
