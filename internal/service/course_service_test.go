package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type mockCourseRepo struct {
	courses   map[string]models.Course
	codes     map[string]bool
	listCalls int
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	m.listCalls++
	var out []models.CourseDetail
	for _, c := range m.courses {
		out = append(out, models.CourseDetail{Course: c})
	}
	return out, len(out), nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	return m.codes[code], nil
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]models.Course)
	}
	if course.ID == "" {
		course.ID = "course-new"
	}
	m.courses[course.ID] = *course
	m.codes[course.Code] = true
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	if _, ok := m.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	m.courses[course.ID] = *course
	return nil
}

type mockDepartmentRepo struct {
	departments map[string]models.Department
	sessions    map[string]models.Session
	listCalls   int
}

func (m *mockDepartmentRepo) ListDepartments(ctx context.Context) ([]models.Department, error) {
	m.listCalls++
	var out []models.Department
	for _, d := range m.departments {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDepartmentRepo) FindDepartmentByID(ctx context.Context, id string) (*models.Department, error) {
	if d, ok := m.departments[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDepartmentRepo) CreateDepartment(ctx context.Context, department *models.Department) error {
	if m.departments == nil {
		m.departments = make(map[string]models.Department)
	}
	if department.ID == "" {
		department.ID = "dept-new"
	}
	m.departments[department.ID] = *department
	return nil
}

func (m *mockDepartmentRepo) ListSessions(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockDepartmentRepo) FindSessionByID(ctx context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDepartmentRepo) CreateSession(ctx context.Context, session *models.Session) error {
	if m.sessions == nil {
		m.sessions = make(map[string]models.Session)
	}
	if session.ID == "" {
		session.ID = "sess-new"
	}
	m.sessions[session.ID] = *session
	return nil
}

type memoryCacheRepo struct {
	entries map[string][]byte
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	delete(m.entries, pattern)
	return nil
}

func newCourseFixture(cache *CacheService) (*CourseService, *mockCourseRepo, *mockDepartmentRepo) {
	courses := &mockCourseRepo{
		courses: map[string]models.Course{
			"course-1": {ID: "course-1", DepartmentID: "dept-1", Code: "BSC-PHY", Name: "BSc Physics", DurationYears: 3},
		},
		codes: map[string]bool{"BSC-PHY": true},
	}
	departments := &mockDepartmentRepo{
		departments: map[string]models.Department{
			"dept-1": {ID: "dept-1", Code: "PHY", Name: "Physics"},
		},
		sessions: map[string]models.Session{
			"sess-1": {ID: "sess-1", Name: "2026-2029"},
		},
	}
	return NewCourseService(courses, departments, cache, nil, nil), courses, departments
}

func TestCourseServiceCreate(t *testing.T) {
	svc, repo, _ := newCourseFixture(nil)

	course, err := svc.Create(context.Background(), CreateCourseRequest{
		DepartmentID:  "dept-1",
		Code:          "BSC-CHM",
		Name:          "BSc Chemistry",
		DurationYears: 3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, course.ID)
	assert.Len(t, repo.courses, 2)
}

func TestCourseServiceCreateDuplicateCode(t *testing.T) {
	svc, _, _ := newCourseFixture(nil)

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		DepartmentID:  "dept-1",
		Code:          "BSC-PHY",
		Name:          "BSc Physics Again",
		DurationYears: 3,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateUnknownDepartment(t *testing.T) {
	svc, _, _ := newCourseFixture(nil)

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		DepartmentID:  "ghost",
		Code:          "BSC-CHM",
		Name:          "BSc Chemistry",
		DurationYears: 3,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceUpdateKeepsCode(t *testing.T) {
	svc, repo, _ := newCourseFixture(nil)

	updated, err := svc.Update(context.Background(), "course-1", UpdateCourseRequest{Name: "BSc Applied Physics", DurationYears: 4})
	require.NoError(t, err)
	assert.Equal(t, "BSC-PHY", updated.Code)
	assert.Equal(t, 4, repo.courses["course-1"].DurationYears)
}

func TestCourseServiceListDepartmentsCached(t *testing.T) {
	cache := NewCacheService(&memoryCacheRepo{}, nil, time.Minute, nil, true)
	svc, _, departments := newCourseFixture(cache)

	first, err := svc.ListDepartments(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.ListDepartments(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Equal(t, 1, departments.listCalls, "second read should hit the cache")
}

func TestCourseServiceCreateDepartmentInvalidatesCache(t *testing.T) {
	cache := NewCacheService(&memoryCacheRepo{}, nil, time.Minute, nil, true)
	svc, _, departments := newCourseFixture(cache)

	_, err := svc.ListDepartments(context.Background())
	require.NoError(t, err)

	_, err = svc.CreateDepartment(context.Background(), CreateDepartmentRequest{Code: "CHM", Name: "Chemistry"})
	require.NoError(t, err)

	refreshed, err := svc.ListDepartments(context.Background())
	require.NoError(t, err)
	assert.Len(t, refreshed, 2)
	assert.Equal(t, 2, departments.listCalls)
}

func TestCourseServiceCreateSession(t *testing.T) {
	svc, _, departments := newCourseFixture(nil)

	session, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		Name:      "2027-2030",
		StartDate: "2027-07-01",
		EndDate:   "2030-06-30",
	})
	require.NoError(t, err)
	assert.True(t, session.Active)
	assert.Len(t, departments.sessions, 2)
}

func TestCourseServiceCreateSessionRejectsInvertedDates(t *testing.T) {
	svc, _, _ := newCourseFixture(nil)

	_, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		Name:      "2027-2030",
		StartDate: "2030-06-30",
		EndDate:   "2027-07-01",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
