package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
}

type studentSubjectStore interface {
	Exists(ctx context.Context, studentID, subjectID, semesterID string) (bool, error)
	TypesHeld(ctx context.Context, studentID, semesterID string) (map[models.SubjectType]bool, error)
	ListByStudentSemester(ctx context.Context, studentID, semesterID string) ([]models.StudentSubjectDetail, error)
	FindByID(ctx context.Context, id string) (*models.StudentSubject, error)
	Create(ctx context.Context, row *models.StudentSubject) error
	BulkCreate(ctx context.Context, rows []models.StudentSubject) error
	Delete(ctx context.Context, id string) error
}

type selectionStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type selectionSemesterReader interface {
	FindByID(ctx context.Context, id string) (*models.Semester, error)
}

type enrollmentReader interface {
	FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.StudentSemester, error)
}

// Actor identifies the authenticated principal performing a selection
// change. StudentID is the student record linked to the account and is empty
// for staff roles.
type Actor struct {
	UserID    string
	Role      models.UserRole
	StudentID string
}

// AssignSubjectRequest describes a single subject pick payload.
type AssignSubjectRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	SubjectID  string `json:"subject_id" validate:"required"`
	SemesterID string `json:"semester_id" validate:"required"`
}

// BulkAssignSubjectsRequest picks several subjects for one student in one
// semester. All rows are written atomically.
type BulkAssignSubjectsRequest struct {
	StudentID  string   `json:"student_id" validate:"required"`
	SemesterID string   `json:"semester_id" validate:"required"`
	SubjectIDs []string `json:"subject_ids" validate:"required,min=1,dive,required"`
}

// SubjectSelectionService manages student subject picks and the exclusive
// per-type constraint on MJC, MIC and MDC subjects.
type SubjectSelectionService struct {
	subjects   subjectReader
	selections studentSubjectStore
	students   selectionStudentReader
	semesters  selectionSemesterReader
	enrolls    enrollmentReader
	audit      auditLogger
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewSubjectSelectionService constructs SubjectSelectionService.
func NewSubjectSelectionService(subjects subjectReader, selections studentSubjectStore, students selectionStudentReader, semesters selectionSemesterReader, enrolls enrollmentReader, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *SubjectSelectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectSelectionService{
		subjects:   subjects,
		selections: selections,
		students:   students,
		semesters:  semesters,
		enrolls:    enrolls,
		audit:      audit,
		validator:  validate,
		logger:     logger,
	}
}

// List returns a student's picks for one semester.
func (s *SubjectSelectionService) List(ctx context.Context, studentID, semesterID string) ([]models.StudentSubjectDetail, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	rows, err := s.selections.ListByStudentSemester(ctx, studentID, semesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subject selections")
	}
	return rows, nil
}

// Assign records one subject pick after the full validation ladder: the
// subject must belong to the semester, the semester to the student's course,
// the student must be enrolled in the semester, not already hold the subject,
// and not hold another subject of the same exclusive type.
func (s *SubjectSelectionService) Assign(ctx context.Context, req AssignSubjectRequest, actor Actor) (*models.StudentSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject pick payload")
	}
	if err := s.checkOwnership(actor, req.StudentID); err != nil {
		return nil, err
	}
	_, subjects, err := s.loadPickContext(ctx, req.StudentID, req.SemesterID, []string{req.SubjectID})
	if err != nil {
		return nil, err
	}
	subject := subjects[0]

	exists, err := s.selections.Exists(ctx, req.StudentID, req.SubjectID, req.SemesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing pick")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAssigned, "subject already assigned to student for this semester")
	}
	if models.ExclusiveSubjectType(subject.Type) {
		held, err := s.selections.TypesHeld(ctx, req.StudentID, req.SemesterID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load held subject types")
		}
		if held[subject.Type] {
			return nil, appErrors.Clone(appErrors.ErrExclusiveTypeConflict,
				fmt.Sprintf("student already holds a %s subject this semester", subject.Type))
		}
	}

	row := &models.StudentSubject{StudentID: req.StudentID, SubjectID: req.SubjectID, SemesterID: req.SemesterID}
	if err := s.selections.Create(ctx, row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject pick")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionSubjectAssign, row.ID, map[string]interface{}{
		"student_id":  req.StudentID,
		"subject_id":  req.SubjectID,
		"semester_id": req.SemesterID,
	})
	return row, nil
}

// BulkAssign records several picks atomically. The batch itself must not
// contain two subjects of the same exclusive type, and each subject passes
// the same ladder as a single pick.
func (s *SubjectSelectionService) BulkAssign(ctx context.Context, req BulkAssignSubjectsRequest, actor Actor) ([]models.StudentSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk pick payload")
	}
	if err := s.checkOwnership(actor, req.StudentID); err != nil {
		return nil, err
	}
	_, subjects, err := s.loadPickContext(ctx, req.StudentID, req.SemesterID, req.SubjectIDs)
	if err != nil {
		return nil, err
	}

	batchTypes := map[models.SubjectType]string{}
	for _, subject := range subjects {
		if !models.ExclusiveSubjectType(subject.Type) {
			continue
		}
		if prior, ok := batchTypes[subject.Type]; ok {
			return nil, appErrors.Clone(appErrors.ErrExclusiveTypeConflict,
				fmt.Sprintf("subjects %s and %s are both of exclusive type %s", prior, subject.Code, subject.Type))
		}
		batchTypes[subject.Type] = subject.Code
	}

	held, err := s.selections.TypesHeld(ctx, req.StudentID, req.SemesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load held subject types")
	}
	for _, subject := range subjects {
		exists, err := s.selections.Exists(ctx, req.StudentID, subject.ID, req.SemesterID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing pick")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrAlreadyAssigned,
				fmt.Sprintf("subject %s already assigned to student for this semester", subject.Code))
		}
		if models.ExclusiveSubjectType(subject.Type) && held[subject.Type] {
			return nil, appErrors.Clone(appErrors.ErrExclusiveTypeConflict,
				fmt.Sprintf("student already holds a %s subject this semester", subject.Type))
		}
	}

	rows := make([]models.StudentSubject, 0, len(subjects))
	for _, subject := range subjects {
		rows = append(rows, models.StudentSubject{
			StudentID:  req.StudentID,
			SubjectID:  subject.ID,
			SemesterID: req.SemesterID,
		})
	}
	if err := s.selections.BulkCreate(ctx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject picks")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionSubjectAssign, req.StudentID, map[string]interface{}{
		"student_id":  req.StudentID,
		"semester_id": req.SemesterID,
		"count":       len(rows),
	})
	return rows, nil
}

// Unassign removes one pick. Students may only drop their own subjects, and
// only while their semester is ONGOING; staff roles may drop at any time.
func (s *SubjectSelectionService) Unassign(ctx context.Context, pickID string, actor Actor) error {
	row, err := s.selections.FindByID(ctx, pickID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subject pick not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject pick")
	}
	if actor.Role == models.RoleStudent {
		if err := s.checkOwnership(actor, row.StudentID); err != nil {
			return err
		}
		enrollment, err := s.enrolls.FindByStudentAndSemester(ctx, row.StudentID, row.SemesterID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotEnrolled, "student is not enrolled in this semester")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if enrollment.Status != models.StudentSemesterStatusOngoing {
			return appErrors.Clone(appErrors.ErrForbidden, "subject picks are locked once the semester is no longer ongoing")
		}
	}
	if err := s.selections.Delete(ctx, pickID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subject pick not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject pick")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionSubjectUnassign, pickID, map[string]interface{}{
		"student_id":  row.StudentID,
		"subject_id":  row.SubjectID,
		"semester_id": row.SemesterID,
	})
	return nil
}

// checkOwnership rejects STUDENT-role actors touching another student's
// picks. An account without a linked student record owns nothing.
func (s *SubjectSelectionService) checkOwnership(actor Actor, studentID string) error {
	if actor.Role != models.RoleStudent {
		return nil
	}
	if actor.StudentID == "" || actor.StudentID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "students may only manage their own subject picks")
	}
	return nil
}

// loadPickContext runs the shared validation ladder: student, semester and
// subjects exist, subjects belong to the semester, the semester belongs to
// the student's course, and the student is enrolled in the semester.
func (s *SubjectSelectionService) loadPickContext(ctx context.Context, studentID, semesterID string, subjectIDs []string) (*models.StudentDetail, []models.Subject, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	semester, err := s.semesters.FindByID(ctx, semesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	if semester.CourseID != student.CourseID {
		return nil, nil, appErrors.Clone(appErrors.ErrConstraintViolation, "semester belongs to a different course than the student")
	}

	subjects, err := s.subjects.ListByIDs(ctx, subjectIDs)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}
	if len(subjects) != len(subjectIDs) {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "one or more subjects not found")
	}
	for _, subject := range subjects {
		if subject.SemesterID != semesterID {
			return nil, nil, appErrors.Clone(appErrors.ErrConstraintViolation,
				fmt.Sprintf("subject %s does not belong to this semester", subject.Code))
		}
	}

	if _, err := s.enrolls.FindByStudentAndSemester(ctx, studentID, semesterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotEnrolled, "student is not enrolled in this semester")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return student, subjects, nil
}

func (s *SubjectSelectionService) emitAudit(ctx context.Context, actorID, action, resourceID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	body, _ := json.Marshal(payload)
	log := &models.AuditLog{
		Action:     action,
		Resource:   "student_subject",
		ResourceID: &resourceID,
		NewValues:  body,
		IPAddress:  "system",
		UserAgent:  "subject-selection-service",
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
