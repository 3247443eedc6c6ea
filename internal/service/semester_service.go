package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type semesterRepository interface {
	FindByID(ctx context.Context, id string) (*models.Semester, error)
	FindByCourseAndNumber(ctx context.Context, courseID string, number int) (*models.Semester, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Semester, error)
	BulkCreate(ctx context.Context, semesters []models.Semester) error
}

// GenerateSemestersRequest creates the full semester ladder for a course.
type GenerateSemestersRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// SemesterService manages course curricula. A course of N years gets 2N
// numbered semesters.
type SemesterService struct {
	repo      semesterRepository
	courses   courseReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSemesterService constructs the semester service.
func NewSemesterService(repo semesterRepository, courses courseReader, validate *validator.Validate, logger *zap.Logger) *SemesterService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemesterService{repo: repo, courses: courses, validator: validate, logger: logger}
}

// ListByCourse returns a course's semesters in number order.
func (s *SemesterService) ListByCourse(ctx context.Context, courseID string) ([]models.Semester, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	semesters, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semesters")
	}
	return semesters, nil
}

// Get returns one semester.
func (s *SemesterService) Get(ctx context.Context, id string) (*models.Semester, error) {
	semester, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	return semester, nil
}

// Generate creates the missing semesters for a course, up to twice its
// duration in years. Existing numbers are left untouched, so the operation
// can be re-run after extending a course.
func (s *SemesterService) Generate(ctx context.Context, req GenerateSemestersRequest) ([]models.Semester, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid semester payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	existing, err := s.repo.ListByCourse(ctx, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semesters")
	}
	have := make(map[int]bool, len(existing))
	for _, semester := range existing {
		have[semester.Number] = true
	}

	var missing []models.Semester
	total := course.DurationYears * 2
	for number := 1; number <= total; number++ {
		if have[number] {
			continue
		}
		missing = append(missing, models.Semester{CourseID: req.CourseID, Number: number})
	}
	if len(missing) == 0 {
		return existing, nil
	}
	if err := s.repo.BulkCreate(ctx, missing); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create semesters")
	}

	semesters, err := s.repo.ListByCourse(ctx, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semesters")
	}
	return semesters, nil
}
