package models

import "time"

// NotificationKind distinguishes enrollment lifecycle events.
type NotificationKind string

const (
	NotificationWelcome NotificationKind = "ENROLLMENT_CREATED"
	NotificationUpdated NotificationKind = "ENROLLMENT_UPDATED"
)

// Notification is the record delivered to a student when their enrollment is
// created or updated. Delivery is best-effort; notifications never block or
// roll back the originating enrollment write.
type Notification struct {
	ID           string           `db:"id" json:"id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	Kind         NotificationKind `db:"kind" json:"kind"`
	StudentName  string           `db:"student_name" json:"student_name"`
	StudentEmail string           `db:"student_email" json:"student_email"`
	PlanTitle    string           `db:"plan_title" json:"plan_title"`
	StartDate    string           `db:"start_date" json:"start_date"`
	EndDate      string           `db:"end_date" json:"end_date"`
	Price        float64          `db:"price" json:"price"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}
