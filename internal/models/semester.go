package models

import "time"

// Semester is a numbered stage within a course's curriculum.
// (course_id, number) is unique; rows are immutable once created.
type Semester struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Number    int       `db:"number" json:"number"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StudentSemesterStatus represents a student's standing in one semester.
type StudentSemesterStatus string

// Possible student semester statuses.
const (
	StudentSemesterStatusOngoing   StudentSemesterStatus = "ONGOING"
	StudentSemesterStatusCompleted StudentSemesterStatus = "COMPLETED"
	StudentSemesterStatusFailed    StudentSemesterStatus = "FAILED"
	StudentSemesterStatusPromoted  StudentSemesterStatus = "PROMOTED"
)

// ValidStudentSemesterStatus reports whether the value is a member of the enum.
func ValidStudentSemesterStatus(s StudentSemesterStatus) bool {
	switch s {
	case StudentSemesterStatusOngoing, StudentSemesterStatusCompleted,
		StudentSemesterStatusFailed, StudentSemesterStatusPromoted:
		return true
	}
	return false
}

// StudentSemester captures a student's occupancy of one semester.
// (student_id, semester_id) is unique and at most one row per student
// may hold status ONGOING at any time.
type StudentSemester struct {
	ID         string                `db:"id" json:"id"`
	StudentID  string                `db:"student_id" json:"student_id"`
	SemesterID string                `db:"semester_id" json:"semester_id"`
	Status     StudentSemesterStatus `db:"status" json:"status"`
	FeePaid    bool                  `db:"fee_paid" json:"fee_paid"`
	StartDate  time.Time             `db:"start_date" json:"start_date"`
	EndDate    *time.Time            `db:"end_date" json:"end_date,omitempty"`
	CreatedAt  time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time             `db:"updated_at" json:"updated_at"`
}

// StudentSemesterDetail enriches StudentSemester with semester and student info.
type StudentSemesterDetail struct {
	StudentSemester
	SemesterNumber int    `db:"semester_number" json:"semester_number"`
	CourseID       string `db:"course_id" json:"course_id"`
	StudentName    string `db:"student_name" json:"student_name"`
}

// AutoAssignCriteria narrows bulk initial enrollment eligibility.
type AutoAssignCriteria struct {
	SessionID            string `json:"session_id,omitempty"`
	MinCompletedSemester int    `json:"min_completed_semester,omitempty"`
}

// BulkStatusResult reports per-student outcomes of a batch status update.
type BulkStatusResult struct {
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Missing []string `json:"missing,omitempty"`
}
