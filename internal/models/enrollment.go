package models

import "time"

// Enrollment captures a student's time-boxed membership under a plan.
// EndDate and Price are derived from the plan, never supplied by callers.
// A student has at most one enrollment with CanceledAt unset.
type Enrollment struct {
	ID         string     `db:"id" json:"id"`
	StudentID  string     `db:"student_id" json:"student_id"`
	PlanID     string     `db:"plan_id" json:"plan_id"`
	StartDate  time.Time  `db:"start_date" json:"start_date"`
	EndDate    time.Time  `db:"end_date" json:"end_date"`
	Price      float64    `db:"price" json:"price"`
	CanceledAt *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`
	CreatedBy  string     `db:"created_by" json:"created_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the enrollment has not been canceled.
func (e Enrollment) Active() bool {
	return e.CanceledAt == nil
}

// EnrollmentDetail enriches Enrollment with student and plan info.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
	PlanTitle    string `db:"plan_title" json:"plan_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	PlanID    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
