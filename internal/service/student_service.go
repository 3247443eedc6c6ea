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

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	NextRegistrationSequence(ctx context.Context) (int64, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error
	SoftDelete(ctx context.Context, id string) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

type studentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type sessionReader interface {
	FindSessionByID(ctx context.Context, id string) (*models.Session, error)
}

// CreateStudentRequest holds payload for registering a student. UserID
// optionally links the record to a STUDENT-role login account, which scopes
// that account's self-service access to this student.
type CreateStudentRequest struct {
	FullName  string `json:"full_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
	CourseID  string `json:"course_id" validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
	UserID    string `json:"user_id,omitempty"`
}

// UpdateStudentRequest holds payload for updating a student's profile.
// Course and registration number are immutable after creation.
type UpdateStudentRequest struct {
	FullName  string `json:"full_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
	SessionID string `json:"session_id" validate:"required"`
}

// UpdateStudentStatusRequest changes a student's lifecycle status.
type UpdateStudentStatusRequest struct {
	Status models.StudentStatus `json:"status" validate:"required"`
}

// StudentService handles student registry use-cases.
type StudentService struct {
	repo      studentRepository
	courses   studentCourseReader
	sessions  sessionReader
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, courses studentCourseReader, sessions sessionReader, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, courses: courses, sessions: sessions, audit: audit, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one student with course context.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student and issues a registration number of the form
// REG-<year>-<sequence>.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actorID string) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if _, err := s.sessions.FindSessionByID(ctx, req.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	taken, err := s.repo.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}

	seq, err := s.repo.NextRegistrationSequence(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate registration number")
	}
	student := &models.Student{
		RegistrationNumber: fmt.Sprintf("REG-%d-%04d", time.Now().UTC().Year(), seq),
		FullName:           req.FullName,
		Email:              req.Email,
		Phone:              req.Phone,
		CourseID:           req.CourseID,
		SessionID:          req.SessionID,
		Status:             models.StudentStatusActive,
	}
	if req.UserID != "" {
		student.UserID = &req.UserID
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.emitAudit(ctx, actorID, models.AuditActionStudentCreate, student.ID, map[string]interface{}{
		"registration_number": student.RegistrationNumber,
		"course_id":           student.CourseID,
	})
	return student, nil
}

// Update changes a student's mutable profile fields.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest, actorID string) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.FindSessionByID(ctx, req.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	student := existing.Student
	student.FullName = req.FullName
	student.Email = req.Email
	student.Phone = req.Phone
	student.SessionID = req.SessionID
	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	s.emitAudit(ctx, actorID, models.AuditActionStudentUpdate, student.ID, map[string]interface{}{
		"full_name": student.FullName,
	})
	return &student, nil
}

// UpdateStatus changes a student's lifecycle status.
func (s *StudentService) UpdateStatus(ctx context.Context, id string, req UpdateStudentStatusRequest, actorID string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	switch req.Status {
	case models.StudentStatusActive, models.StudentStatusSuspended, models.StudentStatusPassedOut,
		models.StudentStatusAlumni, models.StudentStatusDropout:
	default:
		return appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("unknown student status %q", req.Status))
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student status")
	}
	s.emitAudit(ctx, actorID, models.AuditActionStudentUpdate, id, map[string]interface{}{
		"status": req.Status,
	})
	return nil
}

// Delete tombstones a student record. History rows stay intact.
func (s *StudentService) Delete(ctx context.Context, id string, actorID string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.emitAudit(ctx, actorID, models.AuditActionStudentDelete, id, nil)
	return nil
}

func (s *StudentService) emitAudit(ctx context.Context, actorID, action, resourceID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "student",
		ResourceID: &resourceID,
		NewValues:  body,
		IPAddress:  "system",
		UserAgent:  "student-service",
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
