package models

import "time"

// StudentStatus represents the lifecycle of a student record.
type StudentStatus string

// Possible student statuses.
const (
	StudentStatusActive    StudentStatus = "ACTIVE"
	StudentStatusSuspended StudentStatus = "SUSPENDED"
	StudentStatusPassedOut StudentStatus = "PASSED_OUT"
	StudentStatusAlumni    StudentStatus = "ALUMNI"
	StudentStatusDropout   StudentStatus = "DROPOUT"
)

// Student represents a learner registered in the institution.
// Deleted students are tombstoned, never physically removed.
type Student struct {
	ID                 string        `db:"id" json:"id"`
	UserID             *string       `db:"user_id" json:"user_id,omitempty"`
	RegistrationNumber string        `db:"registration_number" json:"registration_number"`
	FullName           string        `db:"full_name" json:"full_name"`
	Email              string        `db:"email" json:"email"`
	Phone              string        `db:"phone" json:"phone"`
	CourseID           string        `db:"course_id" json:"course_id"`
	SessionID          string        `db:"session_id" json:"session_id"`
	Status             StudentStatus `db:"status" json:"status"`
	Deleted            bool          `db:"deleted" json:"-"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// StudentDetail contains student information with course context.
type StudentDetail struct {
	Student
	CourseName            string  `db:"course_name" json:"course_name"`
	SessionName           string  `db:"session_name" json:"session_name"`
	CurrentSemesterID     *string `db:"current_semester_id" json:"current_semester_id,omitempty"`
	CurrentSemesterNumber *int    `db:"current_semester_number" json:"current_semester_number,omitempty"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	CourseID  string
	SessionID string
	Status    StudentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
