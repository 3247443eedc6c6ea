package models

import "time"

// SubjectType enumerates curriculum subject categories.
// MJC, MIC and MDC are exclusive-choice: a student may pick at most one
// of each per semester. SEC and VAC are unconstrained.
type SubjectType string

const (
	SubjectTypeMJC SubjectType = "MJC"
	SubjectTypeMIC SubjectType = "MIC"
	SubjectTypeMDC SubjectType = "MDC"
	SubjectTypeSEC SubjectType = "SEC"
	SubjectTypeVAC SubjectType = "VAC"
)

// ExclusiveSubjectType reports whether the type allows only one pick per semester.
func ExclusiveSubjectType(t SubjectType) bool {
	return t == SubjectTypeMJC || t == SubjectTypeMIC || t == SubjectTypeMDC
}

// Subject is a course-offering unit belonging to one semester of one course.
type Subject struct {
	ID         string      `db:"id" json:"id"`
	CourseID   string      `db:"course_id" json:"course_id"`
	SemesterID string      `db:"semester_id" json:"semester_id"`
	Code       string      `db:"code" json:"code"`
	Name       string      `db:"name" json:"name"`
	Type       SubjectType `db:"type" json:"type"`
	Credit     int         `db:"credit" json:"credit"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// SubjectFilter provides filters for listing subjects.
type SubjectFilter struct {
	CourseID   string
	SemesterID string
	Type       SubjectType
	Search     string
	Page       int
	PageSize   int
}

// StudentSubject records a student's selection of one subject for one semester.
// (student_id, subject_id, semester_id) is unique.
type StudentSubject struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	SubjectID  string    `db:"subject_id" json:"subject_id"`
	SemesterID string    `db:"semester_id" json:"semester_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StudentSubjectDetail enriches StudentSubject with subject info.
type StudentSubjectDetail struct {
	StudentSubject
	SubjectCode string      `db:"subject_code" json:"subject_code"`
	SubjectName string      `db:"subject_name" json:"subject_name"`
	SubjectType SubjectType `db:"subject_type" json:"subject_type"`
	Credit      int         `db:"credit" json:"credit"`
}
