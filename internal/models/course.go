package models

import "time"

// Department groups courses under one academic unit.
type Department struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Session represents an academic intake year (e.g. 2025-2026).
type Session struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Course represents a degree programme offered by a department.
type Course struct {
	ID            string    `db:"id" json:"id"`
	DepartmentID  string    `db:"department_id" json:"department_id"`
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	DurationYears int       `db:"duration_years" json:"duration_years"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with department info.
type CourseDetail struct {
	Course
	DepartmentName string `db:"department_name" json:"department_name"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	DepartmentID string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
