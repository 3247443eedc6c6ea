package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type semesterReader interface {
	FindByID(ctx context.Context, id string) (*models.Semester, error)
	FindByCourseAndNumber(ctx context.Context, courseID string, number int) (*models.Semester, error)
}

type studentSemesterStore interface {
	FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.StudentSemester, error)
	FindOngoingByStudent(ctx context.Context, studentID string) (*models.StudentSemester, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.StudentSemesterDetail, error)
	ListBySemester(ctx context.Context, semesterID string, status models.StudentSemesterStatus) ([]models.StudentSemesterDetail, error)
	StudentIDsForSemester(ctx context.Context, semesterID string) (map[string]bool, error)
	StudentIDsWithOngoing(ctx context.Context, studentIDs []string) (map[string]bool, error)
	StudentIDsWithStatus(ctx context.Context, semesterID string, status models.StudentSemesterStatus) (map[string]bool, error)
	MaxCompletedNumbers(ctx context.Context, courseID string) (map[string]int, error)
	Create(ctx context.Context, row *models.StudentSemester) error
	BulkCreate(ctx context.Context, rows []models.StudentSemester) error
	UpdateStatus(ctx context.Context, studentID, semesterID string, status models.StudentSemesterStatus, feePaid *bool) error
	PromoteAndCreate(ctx context.Context, sourceSemesterID string, studentIDs []string, next []models.StudentSemester) error
}

type ongoingSemesterFinder interface {
	FindOngoingByStudent(ctx context.Context, studentID string) (*models.StudentSemester, error)
}

// ongoingSemester returns the student's current ONGOING assignment, or nil
// when there is none. Every path that creates a StudentSemester consults this
// first; a student holds at most one ONGOING semester.
func ongoingSemester(ctx context.Context, store ongoingSemesterFinder, studentID string) (*models.StudentSemester, error) {
	row, err := store.FindOngoingByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

type progressionStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error
	ListActiveByCourse(ctx context.Context, courseID, sessionID string) ([]models.Student, error)
}

// AssignSemesterRequest describes a manual semester assignment payload.
type AssignSemesterRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	SemesterID string `json:"semester_id" validate:"required"`
	FeePaid    bool   `json:"fee_paid"`
}

// SetStatusRequest describes a semester status change payload.
type SetStatusRequest struct {
	Status  models.StudentSemesterStatus `json:"status" validate:"required"`
	FeePaid *bool                        `json:"fee_paid,omitempty"`
}

// BulkSetStatusRequest applies one status to many students of a semester.
type BulkSetStatusRequest struct {
	StudentIDs []string                     `json:"student_ids" validate:"required,min=1,dive,required"`
	Status     models.StudentSemesterStatus `json:"status" validate:"required"`
	FeePaid    *bool                        `json:"fee_paid,omitempty"`
}

// AutoAssignRequest narrows the auto-assignment candidate pool.
type AutoAssignRequest struct {
	SessionID            string `json:"session_id,omitempty"`
	MinCompletedSemester int    `json:"min_completed_semester,omitempty"`
}

// AutoAssignResult reports the outcome of an auto-assignment run.
type AutoAssignResult struct {
	Assigned   int      `json:"assigned"`
	StudentIDs []string `json:"student_ids,omitempty"`
}

// PromoteResult reports the outcome of a semester promotion sweep.
type PromoteResult struct {
	Promoted   int      `json:"promoted"`
	StudentIDs []string `json:"student_ids,omitempty"`
}

// ProgressionService moves students through the semester ladder while
// keeping at most one ONGOING semester per student.
type ProgressionService struct {
	semesters       semesterReader
	assignments     studentSemesterStore
	students        progressionStudentStore
	audit           auditLogger
	defaultDuration time.Duration
	validator       *validator.Validate
	logger          *zap.Logger
}

// NewProgressionService constructs ProgressionService. defaultDuration is the
// span between a new assignment's start and end dates; zero falls back to six
// months.
func NewProgressionService(semesters semesterReader, assignments studentSemesterStore, students progressionStudentStore, audit auditLogger, defaultDuration time.Duration, validate *validator.Validate, logger *zap.Logger) *ProgressionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultDuration <= 0 {
		defaultDuration = 6 * 30 * 24 * time.Hour
	}
	return &ProgressionService{
		semesters:       semesters,
		assignments:     assignments,
		students:        students,
		audit:           audit,
		defaultDuration: defaultDuration,
		validator:       validate,
		logger:          logger,
	}
}

// ListByStudent returns all of a student's semester records.
func (s *ProgressionService) ListByStudent(ctx context.Context, studentID string) ([]models.StudentSemesterDetail, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	rows, err := s.assignments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student semesters")
	}
	return rows, nil
}

// ListBySemester returns a semester's roster, optionally filtered by status.
func (s *ProgressionService) ListBySemester(ctx context.Context, semesterID string, status models.StudentSemesterStatus) ([]models.StudentSemesterDetail, error) {
	if status != "" && !models.ValidStudentSemesterStatus(status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("unknown semester status %q", status))
	}
	if _, err := s.semesters.FindByID(ctx, semesterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	rows, err := s.assignments.ListBySemester(ctx, semesterID, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semester roster")
	}
	return rows, nil
}

// Assign creates a single semester assignment. The student must belong to the
// semester's course, must not already hold the semester, and must not have
// another ONGOING semester.
func (s *ProgressionService) Assign(ctx context.Context, req AssignSemesterRequest, actorID string) (*models.StudentSemester, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	semester, err := s.semesters.FindByID(ctx, req.SemesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	if semester.CourseID != student.CourseID {
		return nil, appErrors.Clone(appErrors.ErrConstraintViolation, "semester belongs to a different course")
	}
	if _, err := s.assignments.FindByStudentAndSemester(ctx, req.StudentID, req.SemesterID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAssigned, "student already holds this semester")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing assignment")
	}
	ongoing, err := ongoingSemester(ctx, s.assignments, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check ongoing semester")
	}
	if ongoing != nil {
		return nil, appErrors.Clone(appErrors.ErrConstraintViolation,
			fmt.Sprintf("student already has an ongoing semester %s", ongoing.SemesterID))
	}

	row := s.newAssignment(req.StudentID, req.SemesterID, req.FeePaid)
	if err := s.assignments.Create(ctx, row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	s.emitAudit(ctx, actorID, models.AuditActionSemesterAssign, row.ID, map[string]interface{}{
		"student_id":  req.StudentID,
		"semester_id": req.SemesterID,
	})
	return row, nil
}

// SetStatus updates one student's standing in a semester. Marking the
// semester COMPLETED cascades: the student is moved into the next semester of
// the course, or marked PASSED_OUT when none exists. FAILED never cascades.
func (s *ProgressionService) SetStatus(ctx context.Context, studentID, semesterID string, req SetStatusRequest, actorID string) (*models.StudentSemester, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidStudentSemesterStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("unknown semester status %q", req.Status))
	}
	row, err := s.assignments.FindByStudentAndSemester(ctx, studentID, semesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student semester record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student semester")
	}
	if err := s.assignments.UpdateStatus(ctx, studentID, semesterID, req.Status, req.FeePaid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student semester record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update semester status")
	}
	row.Status = req.Status
	if req.FeePaid != nil {
		row.FeePaid = *req.FeePaid
	}
	row.UpdatedAt = time.Now().UTC()

	s.emitAudit(ctx, actorID, models.AuditActionSemesterStatus, row.ID, map[string]interface{}{
		"student_id":  studentID,
		"semester_id": semesterID,
		"status":      req.Status,
	})

	if req.Status == models.StudentSemesterStatusCompleted {
		if err := s.completeCascade(ctx, studentID, semesterID, actorID); err != nil {
			s.logger.Error("semester completion cascade failed",
				zap.String("student_id", studentID),
				zap.String("semester_id", semesterID),
				zap.Error(err))
		}
	}
	return row, nil
}

// completeCascade advances a student who just completed a semester. The next
// semester of the course is assigned ONGOING; when the course has no further
// semester the student is marked PASSED_OUT.
func (s *ProgressionService) completeCascade(ctx context.Context, studentID, semesterID, actorID string) error {
	semester, err := s.semesters.FindByID(ctx, semesterID)
	if err != nil {
		return fmt.Errorf("load semester: %w", err)
	}
	next, err := s.semesters.FindByCourseAndNumber(ctx, semester.CourseID, semester.Number+1)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if err := s.students.UpdateStatus(ctx, studentID, models.StudentStatusPassedOut); err != nil {
				return fmt.Errorf("mark student passed out: %w", err)
			}
			return nil
		}
		return fmt.Errorf("load next semester: %w", err)
	}

	if _, err := s.assignments.FindByStudentAndSemester(ctx, studentID, next.ID); err == nil {
		// Re-completing an already cascaded semester is a no-op.
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check next assignment: %w", err)
	}
	if ongoing, err := ongoingSemester(ctx, s.assignments, studentID); err != nil {
		return fmt.Errorf("check ongoing semester: %w", err)
	} else if ongoing != nil {
		return nil
	}

	// Cascade assignments carry no end date; staff close them explicitly.
	row := &models.StudentSemester{
		StudentID:  studentID,
		SemesterID: next.ID,
		Status:     models.StudentSemesterStatusOngoing,
		FeePaid:    false,
		StartDate:  time.Now().UTC(),
	}
	if err := s.assignments.Create(ctx, row); err != nil {
		return fmt.Errorf("create next assignment: %w", err)
	}
	s.emitAudit(ctx, actorID, models.AuditActionSemesterAutoAssign, row.ID, map[string]interface{}{
		"student_id":  studentID,
		"semester_id": next.ID,
		"trigger":     "semester_completed",
	})
	return nil
}

// BulkSetStatus applies one status to many students of a semester. A student
// with no record in the semester is skipped, never aborts the batch.
func (s *ProgressionService) BulkSetStatus(ctx context.Context, semesterID string, req BulkSetStatusRequest, actorID string) (*models.BulkStatusResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk status payload")
	}
	if !models.ValidStudentSemesterStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("unknown semester status %q", req.Status))
	}
	if _, err := s.semesters.FindByID(ctx, semesterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}

	result := &models.BulkStatusResult{}
	single := SetStatusRequest{Status: req.Status, FeePaid: req.FeePaid}
	for _, studentID := range req.StudentIDs {
		if _, err := s.SetStatus(ctx, studentID, semesterID, single, actorID); err != nil {
			result.Skipped++
			var appErr *appErrors.Error
			if errors.As(err, &appErr) && appErr.Code == appErrors.ErrNotFound.Code {
				result.Missing = append(result.Missing, studentID)
				continue
			}
			s.logger.Warn("bulk status update skipped student",
				zap.String("student_id", studentID),
				zap.String("semester_id", semesterID),
				zap.Error(err))
			continue
		}
		result.Updated++
	}
	return result, nil
}

// AutoAssign enrolls every eligible active student of the semester's course
// into the semester. Eligibility: not already in the semester, no other
// ONGOING semester, and for semesters past the first, the previous semester
// COMPLETED. The whole batch is written atomically.
func (s *ProgressionService) AutoAssign(ctx context.Context, semesterID string, req AutoAssignRequest, actorID string) (*AutoAssignResult, error) {
	semester, err := s.semesters.FindByID(ctx, semesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}

	candidates, err := s.students.ListActiveByCourse(ctx, semester.CourseID, req.SessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list candidate students")
	}
	if len(candidates) == 0 {
		return &AutoAssignResult{}, nil
	}

	existing, err := s.assignments.StudentIDsForSemester(ctx, semesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current roster")
	}
	candidateIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		candidateIDs = append(candidateIDs, c.ID)
	}
	ongoing, err := s.assignments.StudentIDsWithOngoing(ctx, candidateIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check ongoing semesters")
	}

	completedPrev := map[string]bool{}
	if semester.Number > 1 {
		prev, err := s.semesters.FindByCourseAndNumber(ctx, semester.CourseID, semester.Number-1)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// No previous semester defined means nobody can have completed it.
				return &AutoAssignResult{}, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load previous semester")
		}
		completedPrev, err = s.assignments.StudentIDsWithStatus(ctx, prev.ID, models.StudentSemesterStatusCompleted)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load previous completions")
		}
	}

	var maxCompleted map[string]int
	if req.MinCompletedSemester > 0 {
		maxCompleted, err = s.assignments.MaxCompletedNumbers(ctx, semester.CourseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completion history")
		}
	}

	var rows []models.StudentSemester
	var assigned []string
	for _, student := range candidates {
		if existing[student.ID] || ongoing[student.ID] {
			continue
		}
		if semester.Number > 1 && !completedPrev[student.ID] {
			continue
		}
		if req.MinCompletedSemester > 0 && maxCompleted[student.ID] < req.MinCompletedSemester {
			continue
		}
		rows = append(rows, *s.newAssignment(student.ID, semesterID, false))
		assigned = append(assigned, student.ID)
	}
	if len(rows) == 0 {
		return &AutoAssignResult{}, nil
	}
	if err := s.assignments.BulkCreate(ctx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignments")
	}

	s.emitAudit(ctx, actorID, models.AuditActionSemesterAutoAssign, semesterID, map[string]interface{}{
		"semester_id": semesterID,
		"assigned":    len(rows),
	})
	return &AutoAssignResult{Assigned: len(rows), StudentIDs: assigned}, nil
}

// Promote sweeps a semester's COMPLETED students into the next semester of
// the course in one transaction, marking the source rows PROMOTED. Students
// already present in the next semester are left alone, which makes repeated
// sweeps safe.
func (s *ProgressionService) Promote(ctx context.Context, semesterID, actorID string) (*PromoteResult, error) {
	current, err := s.semesters.FindByID(ctx, semesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	next, err := s.semesters.FindByCourseAndNumber(ctx, current.CourseID, current.Number+1)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course has no semester after this one")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load next semester")
	}

	completed, err := s.assignments.ListBySemester(ctx, semesterID, models.StudentSemesterStatusCompleted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list completed students")
	}
	if len(completed) == 0 {
		return &PromoteResult{}, nil
	}
	inNext, err := s.assignments.StudentIDsForSemester(ctx, next.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load next roster")
	}

	var promoted []string
	var rows []models.StudentSemester
	for _, row := range completed {
		if inNext[row.StudentID] {
			continue
		}
		rows = append(rows, *s.newAssignment(row.StudentID, next.ID, false))
		promoted = append(promoted, row.StudentID)
	}
	if len(rows) == 0 {
		return &PromoteResult{}, nil
	}
	if err := s.assignments.PromoteAndCreate(ctx, semesterID, promoted, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote students")
	}

	s.emitAudit(ctx, actorID, models.AuditActionSemesterPromote, semesterID, map[string]interface{}{
		"from_semester": semesterID,
		"to_semester":   next.ID,
		"promoted":      len(promoted),
	})
	return &PromoteResult{Promoted: len(promoted), StudentIDs: promoted}, nil
}

func (s *ProgressionService) newAssignment(studentID, semesterID string, feePaid bool) *models.StudentSemester {
	now := time.Now().UTC()
	end := now.Add(s.defaultDuration)
	return &models.StudentSemester{
		StudentID:  studentID,
		SemesterID: semesterID,
		Status:     models.StudentSemesterStatusOngoing,
		FeePaid:    feePaid,
		StartDate:  now,
		EndDate:    &end,
	}
}

func (s *ProgressionService) emitAudit(ctx context.Context, actorID, action, resourceID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	body, _ := json.Marshal(payload)
	log := &models.AuditLog{
		Action:     action,
		Resource:   "student_semester",
		ResourceID: &resourceID,
		NewValues:  body,
		IPAddress:  "system",
		UserAgent:  "progression-service",
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
