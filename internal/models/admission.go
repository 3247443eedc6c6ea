package models

import "time"

// AdmissionStatus captures the admission workflow states.
type AdmissionStatus string

// Possible admission statuses. CONFIRMED and CANCELLED are terminal.
const (
	AdmissionStatusInitiated      AdmissionStatus = "INITIATED"
	AdmissionStatusPaymentPending AdmissionStatus = "PAYMENT_PENDING"
	AdmissionStatusConfirmed      AdmissionStatus = "CONFIRMED"
	AdmissionStatusCancelled      AdmissionStatus = "CANCELLED"
)

// AdmissionTransitions is the allowed-transitions table for the admission
// state machine. Absent keys are terminal states.
var AdmissionTransitions = map[AdmissionStatus][]AdmissionStatus{
	AdmissionStatusInitiated:      {AdmissionStatusPaymentPending, AdmissionStatusCancelled},
	AdmissionStatusPaymentPending: {AdmissionStatusConfirmed, AdmissionStatusCancelled},
}

// CanTransition reports whether the admission state machine allows moving
// from one status to another.
func CanTransition(from, to AdmissionStatus) bool {
	for _, allowed := range AdmissionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidAdmissionStatus reports whether the value is a member of the enum.
func ValidAdmissionStatus(s AdmissionStatus) bool {
	switch s {
	case AdmissionStatusInitiated, AdmissionStatusPaymentPending,
		AdmissionStatusConfirmed, AdmissionStatusCancelled:
		return true
	}
	return false
}

// Admission represents one student's attempt to enroll in one course.
// (student_id, course_id) is unique; rows are never deleted.
type Admission struct {
	ID        string          `db:"id" json:"id"`
	StudentID string          `db:"student_id" json:"student_id"`
	CourseID  string          `db:"course_id" json:"course_id"`
	Status    AdmissionStatus `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// AdmissionDetail enriches Admission with student and course info.
type AdmissionDetail struct {
	Admission
	StudentName  string `db:"student_name" json:"student_name"`
	StudentRegNo string `db:"student_reg_no" json:"student_reg_no"`
	CourseName   string `db:"course_name" json:"course_name"`
	CourseCode   string `db:"course_code" json:"course_code"`
}

// AdmissionHistory is the immutable trail of admission status changes.
type AdmissionHistory struct {
	ID          string          `db:"id" json:"id"`
	AdmissionID string          `db:"admission_id" json:"admission_id"`
	FromStatus  AdmissionStatus `db:"from_status" json:"from_status"`
	ToStatus    AdmissionStatus `db:"to_status" json:"to_status"`
	ChangedBy   string          `db:"changed_by" json:"changed_by"`
	Notes       string          `db:"notes" json:"notes"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// AdmissionFilter provides filters for listing admissions.
type AdmissionFilter struct {
	StudentID string
	CourseID  string
	Status    AdmissionStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
