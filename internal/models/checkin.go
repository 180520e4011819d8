package models

import "time"

// Checkin is an immutable gym entry event. Once written it is only ever read
// for quota accounting and history listings.
type Checkin struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
