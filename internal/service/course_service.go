package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
}

type departmentRepository interface {
	ListDepartments(ctx context.Context) ([]models.Department, error)
	FindDepartmentByID(ctx context.Context, id string) (*models.Department, error)
	CreateDepartment(ctx context.Context, department *models.Department) error
	ListSessions(ctx context.Context) ([]models.Session, error)
	FindSessionByID(ctx context.Context, id string) (*models.Session, error)
	CreateSession(ctx context.Context, session *models.Session) error
}

// CreateCourseRequest holds payload for creating a course.
type CreateCourseRequest struct {
	DepartmentID  string `json:"department_id" validate:"required"`
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	DurationYears int    `json:"duration_years" validate:"required,min=1,max=10"`
}

// UpdateCourseRequest holds payload for updating a course.
type UpdateCourseRequest struct {
	Name          string `json:"name" validate:"required"`
	DurationYears int    `json:"duration_years" validate:"required,min=1,max=10"`
}

// CreateDepartmentRequest holds payload for creating a department.
type CreateDepartmentRequest struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// CreateSessionRequest holds payload for creating an academic session.
type CreateSessionRequest struct {
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

const (
	cacheKeyCourses     = "catalog:courses"
	cacheKeyDepartments = "catalog:departments"
	cacheKeySessions    = "catalog:sessions"
)

// CourseService manages the academic catalog: departments, sessions and
// courses. Read paths go through the cache; writes invalidate it.
type CourseService struct {
	courses     courseRepository
	departments departmentRepository
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs the course service.
func NewCourseService(courses courseRepository, departments departmentRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{courses: courses, departments: departments, cache: cache, validator: validate, logger: logger}
}

// List returns courses matching the filter. The unfiltered first page is
// served from cache when available.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	cacheable := filter.DepartmentID == "" && filter.Search == "" && filter.Page <= 1
	if cacheable && s.cache.Enabled() {
		var cached struct {
			Courses    []models.CourseDetail `json:"courses"`
			Pagination models.Pagination     `json:"pagination"`
		}
		if hit, _ := s.cache.Get(ctx, cacheKeyCourses, &cached); hit {
			return cached.Courses, &cached.Pagination, nil
		}
	}

	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	if cacheable {
		_ = s.cache.Set(ctx, cacheKeyCourses, map[string]interface{}{
			"courses":    courses,
			"pagination": pagination,
		}, 0)
	}
	return courses, pagination, nil
}

// Get returns one course.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create adds a course under a department.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if _, err := s.departments.FindDepartmentByID(ctx, req.DepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}
	taken, err := s.courses.ExistsByCode(ctx, req.Code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course code %s already exists", req.Code))
	}

	course := &models.Course{
		DepartmentID:  req.DepartmentID,
		Code:          req.Code,
		Name:          req.Name,
		DurationYears: req.DurationYears,
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	_ = s.cache.Invalidate(ctx, cacheKeyCourses)
	return course, nil
}

// Update changes a course's mutable fields. Code and department stay fixed.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	course.Name = req.Name
	course.DurationYears = req.DurationYears
	if err := s.courses.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	_ = s.cache.Invalidate(ctx, cacheKeyCourses)
	return course, nil
}

// ListDepartments returns all departments, cache-first.
func (s *CourseService) ListDepartments(ctx context.Context) ([]models.Department, error) {
	if s.cache.Enabled() {
		var cached []models.Department
		if hit, _ := s.cache.Get(ctx, cacheKeyDepartments, &cached); hit {
			return cached, nil
		}
	}
	departments, err := s.departments.ListDepartments(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	_ = s.cache.Set(ctx, cacheKeyDepartments, departments, 0)
	return departments, nil
}

// CreateDepartment adds a department.
func (s *CourseService) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*models.Department, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid department payload")
	}
	department := &models.Department{Code: req.Code, Name: req.Name}
	if err := s.departments.CreateDepartment(ctx, department); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create department")
	}
	_ = s.cache.Invalidate(ctx, cacheKeyDepartments)
	return department, nil
}

// ListSessions returns all academic sessions, cache-first.
func (s *CourseService) ListSessions(ctx context.Context) ([]models.Session, error) {
	if s.cache.Enabled() {
		var cached []models.Session
		if hit, _ := s.cache.Get(ctx, cacheKeySessions, &cached); hit {
			return cached, nil
		}
	}
	sessions, err := s.departments.ListSessions(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	_ = s.cache.Set(ctx, cacheKeySessions, sessions, 0)
	return sessions, nil
}

// CreateSession adds an academic session.
func (s *CourseService) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start date")
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end date")
	}
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}

	session := &models.Session{Name: req.Name, StartDate: start, EndDate: end, Active: true}
	if err := s.departments.CreateSession(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	_ = s.cache.Invalidate(ctx, cacheKeySessions)
	return session, nil
}
