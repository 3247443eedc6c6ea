package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type mockStudentRepo struct {
	students map[string]models.StudentDetail
	emails   map[string]bool
	seq      int64
	deleted  []string
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var out []models.StudentDetail
	for _, s := range m.students {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) NextRegistrationSequence(ctx context.Context) (int64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string]models.StudentDetail)
	}
	if student.ID == "" {
		student.ID = fmt.Sprintf("stu-%d", len(m.students)+1)
	}
	m.students[student.ID] = models.StudentDetail{Student: *student}
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	if _, ok := m.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	m.students[student.ID] = models.StudentDetail{Student: *student}
	return nil
}

func (m *mockStudentRepo) UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error {
	s, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = status
	m.students[id] = s
	return nil
}

func (m *mockStudentRepo) SoftDelete(ctx context.Context, id string) error {
	s, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Deleted = true
	m.students[id] = s
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockStudentRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return m.emails[email], nil
}

type mockSessionReader struct {
	sessions map[string]models.Session
}

func (m *mockSessionReader) FindSessionByID(ctx context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func newStudentFixture() (*StudentService, *mockStudentRepo, *mockAuditLogger) {
	repo := &mockStudentRepo{students: map[string]models.StudentDetail{}, emails: map[string]bool{}}
	courses := &mockCourseReader{courses: map[string]models.Course{
		"course-1": {ID: "course-1", Name: "BSc Physics", DurationYears: 3},
	}}
	sessions := &mockSessionReader{sessions: map[string]models.Session{
		"sess-1": {ID: "sess-1", Name: "2026-2029"},
	}}
	audit := &mockAuditLogger{}
	svc := NewStudentService(repo, courses, sessions, audit, nil, nil)
	return svc, repo, audit
}

func TestStudentServiceCreate(t *testing.T) {
	svc, _, audit := newStudentFixture()

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName:  "Asha Verma",
		Email:     "asha@example.com",
		CourseID:  "course-1",
		SessionID: "sess-1",
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, student.Status)
	assert.Equal(t, fmt.Sprintf("REG-%d-0001", time.Now().UTC().Year()), student.RegistrationNumber)
	assert.Contains(t, audit.actions(), models.AuditActionStudentCreate)
}

func TestStudentServiceCreateSequencePads(t *testing.T) {
	svc, repo, _ := newStudentFixture()
	repo.seq = 41

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName:  "Ravi Iyer",
		Email:     "ravi@example.com",
		CourseID:  "course-1",
		SessionID: "sess-1",
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("REG-%d-0042", time.Now().UTC().Year()), student.RegistrationNumber)
}

func TestStudentServiceCreateDuplicateEmail(t *testing.T) {
	svc, repo, _ := newStudentFixture()
	repo.emails["asha@example.com"] = true

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName:  "Asha Verma",
		Email:     "asha@example.com",
		CourseID:  "course-1",
		SessionID: "sess-1",
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceCreateUnknownCourse(t *testing.T) {
	svc, _, _ := newStudentFixture()

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName:  "Asha Verma",
		Email:     "asha@example.com",
		CourseID:  "ghost",
		SessionID: "sess-1",
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceUpdateKeepsCourse(t *testing.T) {
	svc, repo, _ := newStudentFixture()
	repo.students["stu-1"] = models.StudentDetail{Student: models.Student{
		ID: "stu-1", RegistrationNumber: "REG-2026-0001", FullName: "Asha Verma",
		Email: "asha@example.com", CourseID: "course-1", SessionID: "sess-1",
		Status: models.StudentStatusActive,
	}}

	updated, err := svc.Update(context.Background(), "stu-1", UpdateStudentRequest{
		FullName:  "Asha V. Verma",
		Email:     "asha.verma@example.com",
		Phone:     "9999999999",
		SessionID: "sess-1",
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha V. Verma", updated.FullName)
	assert.Equal(t, "course-1", updated.CourseID)
	assert.Equal(t, "REG-2026-0001", updated.RegistrationNumber)
}

func TestStudentServiceUpdateStatusValidatesEnum(t *testing.T) {
	svc, repo, _ := newStudentFixture()
	repo.students["stu-1"] = models.StudentDetail{Student: models.Student{ID: "stu-1", Status: models.StudentStatusActive}}

	err := svc.UpdateStatus(context.Background(), "stu-1", UpdateStudentStatusRequest{Status: "EXPELLED"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidStatus.Code, appErrors.FromError(err).Code)

	err = svc.UpdateStatus(context.Background(), "stu-1", UpdateStudentStatusRequest{Status: models.StudentStatusSuspended}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusSuspended, repo.students["stu-1"].Status)
}

func TestStudentServiceDeleteSoft(t *testing.T) {
	svc, repo, audit := newStudentFixture()
	repo.students["stu-1"] = models.StudentDetail{Student: models.Student{ID: "stu-1"}}

	err := svc.Delete(context.Background(), "stu-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-1"}, repo.deleted)
	assert.True(t, repo.students["stu-1"].Deleted)
	assert.Contains(t, audit.actions(), models.AuditActionStudentDelete)

	err = svc.Delete(context.Background(), "ghost", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
