package models

import "time"

// Plan is a membership offering: a duration in whole months and a monthly
// price. Plans are read-only inputs for enrollment derivation.
type Plan struct {
	ID             string    `db:"id" json:"id"`
	Title          string    `db:"title" json:"title"`
	DurationMonths int       `db:"duration_months" json:"duration_months"`
	Price          float64   `db:"price" json:"price"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
