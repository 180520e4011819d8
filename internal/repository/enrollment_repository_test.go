package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gympoint/gympoint-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func enrollmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "plan_id", "start_date", "end_date", "price",
		"canceled_at", "created_by", "created_at", "updated_at",
	})
}

func TestEnrollmentRepositoryListActiveFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)
	rows := sqlmock.NewRows([]string{
		"id", "student_id", "plan_id", "start_date", "end_date", "price",
		"canceled_at", "created_by", "created_at", "updated_at",
		"student_name", "student_email", "plan_title",
	}).AddRow("e1", "s1", "p1", start, end, 327.0, nil, "u1", start, start, "Ana Souza", "ana@example.com", "Gold")

	active := true
	mock.ExpectQuery(`SELECT .+ FROM enrollments e\s+LEFT JOIN students s .+ WHERE 1=1 AND e\.student_id = \$1 AND e\.canceled_at IS NULL ORDER BY e\.start_date DESC LIMIT 20 OFFSET 0`).
		WithArgs("s1").
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments e`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.EnrollmentFilter{StudentID: "s1", Active: &active})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Ana Souza", list[0].StudentName)
	assert.Equal(t, "Gold", list[0].PlanTitle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsActiveByStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(`SELECT 1 FROM enrollments WHERE student_id = \$1 AND canceled_at IS NULL LIMIT 1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsActiveByStudent(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(`SELECT 1 FROM enrollments WHERE student_id = \$1 AND canceled_at IS NULL AND id <> \$2 LIMIT 1`).
		WithArgs("s1", "e1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err = repo.ExistsActiveByStudent(context.Background(), "s1", "e1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "s1", "p1", sqlmock.AnyArg(), sqlmock.AnyArg(), 327.0, nil, "u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{
		StudentID: "s1",
		PlanID:    "p1",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Price:     327,
		CreatedBy: "u1",
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.False(t, enrollment.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCancelGuardsCanceledAt(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	canceledAt := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE enrollments SET canceled_at = \$2, updated_at = \$2 WHERE id = \$1 AND canceled_at IS NULL`).
		WithArgs("e1", canceledAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Cancel(context.Background(), "e1", canceledAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByStudentSkipsCanceled(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM enrollments e WHERE e\.student_id = \$1 AND e\.canceled_at IS NULL`).
		WithArgs("s1").
		WillReturnRows(enrollmentRows().AddRow("e1", "s1", "p1", start, start.AddDate(0, 3, 0), 327.0, nil, "u1", start, start))

	list, err := repo.ListByStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}
