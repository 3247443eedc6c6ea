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

type admissionRepository interface {
	List(ctx context.Context, filter models.AdmissionFilter) ([]models.AdmissionDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Admission, error)
	ExistsForStudentCourse(ctx context.Context, studentID, courseID string) (bool, error)
	Create(ctx context.Context, admission *models.Admission) error
	UpdateStatusWithHistory(ctx context.Context, admissionID string, from, to models.AdmissionStatus, history *models.AdmissionHistory) error
	ListHistory(ctx context.Context, admissionID string) ([]models.AdmissionHistory, error)
}

type admissionStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type semesterByNumberReader interface {
	FindByCourseAndNumber(ctx context.Context, courseID string, number int) (*models.Semester, error)
}

type enrollmentCreator interface {
	FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.StudentSemester, error)
	FindOngoingByStudent(ctx context.Context, studentID string) (*models.StudentSemester, error)
	Create(ctx context.Context, row *models.StudentSemester) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateAdmissionRequest describes admission creation payload.
type CreateAdmissionRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// TransitionRequest describes an admission status change payload.
type TransitionRequest struct {
	Status models.AdmissionStatus `json:"status" validate:"required"`
	Notes  string                 `json:"notes"`
}

// TransitionResult carries the updated admission plus any cascade warning.
// A non-empty CascadeError means the status change committed but the
// enrollment cascade could not complete.
type TransitionResult struct {
	Admission    *models.Admission `json:"admission"`
	AutoAssigned bool              `json:"auto_assigned"`
	CascadeError string            `json:"cascade_error,omitempty"`
}

// AdmissionService enforces the admission state machine and its
// confirmation cascade.
type AdmissionService struct {
	repo      admissionRepository
	students  admissionStudentStore
	courses   courseReader
	semesters semesterByNumberReader
	enrolls   enrollmentCreator
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAdmissionService constructs AdmissionService.
func NewAdmissionService(repo admissionRepository, students admissionStudentStore, courses courseReader, semesters semesterByNumberReader, enrolls enrollmentCreator, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{repo: repo, students: students, courses: courses, semesters: semesters, enrolls: enrolls, audit: audit, validator: validate, logger: logger}
}

// List returns admissions with pagination metadata.
func (s *AdmissionService) List(ctx context.Context, filter models.AdmissionFilter) ([]models.AdmissionDetail, *models.Pagination, error) {
	admissions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list admissions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return admissions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create registers a new admission in INITIATED state.
func (s *AdmissionService) Create(ctx context.Context, req CreateAdmissionRequest, actorID string) (*models.Admission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid admission payload")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	exists, err := s.repo.ExistsForStudentCourse(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate admission")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already holds an admission for this course")
	}
	admission := &models.Admission{StudentID: req.StudentID, CourseID: req.CourseID, Status: models.AdmissionStatusInitiated}
	if err := s.repo.Create(ctx, admission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create admission")
	}
	s.emitAudit(ctx, actorID, models.AuditActionAdmissionCreate, admission.ID, map[string]interface{}{
		"student_id": admission.StudentID,
		"course_id":  admission.CourseID,
	})
	return admission, nil
}

// Get returns an admission by id.
func (s *AdmissionService) Get(ctx context.Context, id string) (*models.Admission, error) {
	admission, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "admission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load admission")
	}
	return admission, nil
}

// History returns the admission's status trail, oldest first.
func (s *AdmissionService) History(ctx context.Context, admissionID string) ([]models.AdmissionHistory, error) {
	if _, err := s.Get(ctx, admissionID); err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, admissionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load admission history")
	}
	return history, nil
}

// Transition applies one step of the admission state machine. On CONFIRMED
// the enrollment cascade runs after the status commits; a cascade failure is
// reported in the result, not rolled back.
func (s *AdmissionService) Transition(ctx context.Context, admissionID string, req TransitionRequest, actorID string) (*TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	if !models.ValidAdmissionStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("unknown admission status %q", req.Status))
	}
	admission, err := s.repo.FindByID(ctx, admissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "admission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load admission")
	}
	if !models.CanTransition(admission.Status, req.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot transition admission from %s to %s", admission.Status, req.Status))
	}

	history := &models.AdmissionHistory{
		AdmissionID: admission.ID,
		FromStatus:  admission.Status,
		ToStatus:    req.Status,
		ChangedBy:   actorID,
		Notes:       req.Notes,
	}
	if err := s.repo.UpdateStatusWithHistory(ctx, admission.ID, admission.Status, req.Status, history); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Guarded update found a different current status: a concurrent
			// transition won the race.
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "admission status changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist admission transition")
	}

	from := admission.Status
	admission.Status = req.Status
	admission.UpdatedAt = time.Now().UTC()

	s.emitAudit(ctx, actorID, models.AuditActionAdmissionTransit, admission.ID, map[string]interface{}{
		"from":  from,
		"to":    req.Status,
		"notes": req.Notes,
	})

	result := &TransitionResult{Admission: admission}
	if req.Status == models.AdmissionStatusConfirmed {
		assigned, err := s.confirmCascade(ctx, admission, actorID)
		result.AutoAssigned = assigned
		if err != nil {
			s.logger.Error("admission confirmation cascade failed",
				zap.String("admission_id", admission.ID), zap.Error(err))
			result.CascadeError = err.Error()
		}
	}
	return result, nil
}

// confirmCascade activates the student and auto-assigns semester 1 when the
// single-ongoing-semester invariant allows it. Returns whether a new
// StudentSemester row was created.
func (s *AdmissionService) confirmCascade(ctx context.Context, admission *models.Admission, actorID string) (bool, error) {
	student, err := s.students.FindByID(ctx, admission.StudentID)
	if err != nil {
		return false, fmt.Errorf("load student: %w", err)
	}
	if student.Status != models.StudentStatusActive {
		if err := s.students.UpdateStatus(ctx, student.ID, models.StudentStatusActive); err != nil {
			return false, fmt.Errorf("activate student: %w", err)
		}
	}

	first, err := s.semesters.FindByCourseAndNumber(ctx, admission.CourseID, 1)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Course has no curriculum yet: nothing to assign.
			return false, nil
		}
		return false, fmt.Errorf("load first semester: %w", err)
	}

	if _, err := s.enrolls.FindByStudentAndSemester(ctx, student.ID, first.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check existing assignment: %w", err)
	}
	if ongoing, err := ongoingSemester(ctx, s.enrolls, student.ID); err != nil {
		return false, fmt.Errorf("check ongoing semester: %w", err)
	} else if ongoing != nil {
		// Another semester is ONGOING; the invariant wins over auto-assignment.
		return false, nil
	}

	row := &models.StudentSemester{
		StudentID:  student.ID,
		SemesterID: first.ID,
		Status:     models.StudentSemesterStatusOngoing,
		FeePaid:    false,
		StartDate:  time.Now().UTC(),
	}
	if err := s.enrolls.Create(ctx, row); err != nil {
		// A concurrent confirmation may have created the row between the
		// check and the insert; the unique constraint keeps one row.
		if _, findErr := s.enrolls.FindByStudentAndSemester(ctx, student.ID, first.ID); findErr == nil {
			return false, nil
		}
		return false, fmt.Errorf("create semester assignment: %w", err)
	}

	s.emitAudit(ctx, actorID, models.AuditActionSemesterAutoAssign, row.ID, map[string]interface{}{
		"student_id":  student.ID,
		"semester_id": first.ID,
		"trigger":     "admission_confirmed",
	})
	return true, nil
}

func (s *AdmissionService) emitAudit(ctx context.Context, actorID, action, resourceID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	body, _ := json.Marshal(payload)
	log := &models.AuditLog{
		Action:     action,
		Resource:   "admission",
		ResourceID: &resourceID,
		NewValues:  body,
		IPAddress:  "system",
		UserAgent:  "admission-service",
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
