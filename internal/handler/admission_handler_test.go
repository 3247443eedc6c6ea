package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-erp-api/internal/middleware"
	"github.com/noah-isme/college-erp-api/internal/models"
	"github.com/noah-isme/college-erp-api/internal/service"
)

type admissionRepoStub struct {
	admissions map[string]*models.Admission
	histories  []models.AdmissionHistory
	seq        int
}

func (m *admissionRepoStub) List(ctx context.Context, filter models.AdmissionFilter) ([]models.AdmissionDetail, int, error) {
	var out []models.AdmissionDetail
	for _, a := range m.admissions {
		out = append(out, models.AdmissionDetail{Admission: *a})
	}
	return out, len(out), nil
}

func (m *admissionRepoStub) FindByID(ctx context.Context, id string) (*models.Admission, error) {
	if a, ok := m.admissions[id]; ok {
		copy := *a
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *admissionRepoStub) ExistsForStudentCourse(ctx context.Context, studentID, courseID string) (bool, error) {
	for _, a := range m.admissions {
		if a.StudentID == studentID && a.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (m *admissionRepoStub) Create(ctx context.Context, admission *models.Admission) error {
	if m.admissions == nil {
		m.admissions = make(map[string]*models.Admission)
	}
	m.seq++
	admission.ID = "adm-1"
	copy := *admission
	m.admissions[admission.ID] = &copy
	return nil
}

func (m *admissionRepoStub) UpdateStatusWithHistory(ctx context.Context, admissionID string, from, to models.AdmissionStatus, history *models.AdmissionHistory) error {
	a, ok := m.admissions[admissionID]
	if !ok || a.Status != from {
		return sql.ErrNoRows
	}
	a.Status = to
	m.histories = append(m.histories, *history)
	return nil
}

func (m *admissionRepoStub) ListHistory(ctx context.Context, admissionID string) ([]models.AdmissionHistory, error) {
	var out []models.AdmissionHistory
	for _, h := range m.histories {
		if h.AdmissionID == admissionID {
			out = append(out, h)
		}
	}
	return out, nil
}

type admissionStudentsStub struct {
	students map[string]*models.StudentDetail
}

func (m *admissionStudentsStub) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *admissionStudentsStub) UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error {
	if s, ok := m.students[id]; ok {
		s.Status = status
		return nil
	}
	return sql.ErrNoRows
}

type courseReaderStub struct {
	courses map[string]*models.Course
}

func (m *courseReaderStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if cr, ok := m.courses[id]; ok {
		return cr, nil
	}
	return nil, sql.ErrNoRows
}

type semesterByNumberStub struct{}

func (semesterByNumberStub) FindByCourseAndNumber(ctx context.Context, courseID string, number int) (*models.Semester, error) {
	return nil, sql.ErrNoRows
}

type enrollmentCreatorStub struct{}

func (enrollmentCreatorStub) FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.StudentSemester, error) {
	return nil, sql.ErrNoRows
}

func (enrollmentCreatorStub) FindOngoingByStudent(ctx context.Context, studentID string) (*models.StudentSemester, error) {
	return nil, sql.ErrNoRows
}

func (enrollmentCreatorStub) Create(ctx context.Context, row *models.StudentSemester) error {
	return nil
}

type auditLoggerStub struct{}

func (auditLoggerStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

func newAdmissionHandlerFixture() (*AdmissionHandler, *admissionRepoStub) {
	repo := &admissionRepoStub{admissions: map[string]*models.Admission{
		"adm-pending": {ID: "adm-pending", StudentID: "stu-2", CourseID: "course-1", Status: models.AdmissionStatusInitiated},
	}}
	students := &admissionStudentsStub{students: map[string]*models.StudentDetail{
		"stu-1": {Student: models.Student{ID: "stu-1", CourseID: "course-1", Status: models.StudentStatusSuspended}},
		"stu-2": {Student: models.Student{ID: "stu-2", CourseID: "course-1", Status: models.StudentStatusSuspended}},
	}}
	courses := &courseReaderStub{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", Code: "BSC-PHY", DurationYears: 3},
	}}
	svc := service.NewAdmissionService(repo, students, courses, semesterByNumberStub{}, enrollmentCreatorStub{}, auditLoggerStub{}, nil, nil)
	return NewAdmissionHandler(svc), repo
}

func TestAdmissionHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAdmissionHandlerFixture()

	payload, _ := json.Marshal(service.CreateAdmissionRequest{StudentID: "stu-1", CourseID: "course-1"})
	c, w := newGinContext(http.MethodPost, "/admissions", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	created, ok := repo.admissions["adm-1"]
	require.True(t, ok)
	assert.Equal(t, models.AdmissionStatusInitiated, created.Status)
}

func TestAdmissionHandlerCreateInvalidPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newAdmissionHandlerFixture()

	c, w := newGinContext(http.MethodPost, "/admissions", []byte("{not-json"))
	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmissionHandlerTransitionNormalizesStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAdmissionHandlerFixture()

	payload, _ := json.Marshal(map[string]string{"status": "payment_pending", "notes": "fees due"})
	c, w := newGinContext(http.MethodPut, "/admissions/adm-pending/status", payload)
	c.Params = gin.Params{{Key: "id", Value: "adm-pending"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Transition(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AdmissionStatusPaymentPending, repo.admissions["adm-pending"].Status)
}

func TestAdmissionHandlerTransitionRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAdmissionHandlerFixture()

	payload, _ := json.Marshal(map[string]string{"status": "CONFIRMED"})
	c, w := newGinContext(http.MethodPut, "/admissions/adm-pending/status", payload)
	c.Params = gin.Params{{Key: "id", Value: "adm-pending"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Transition(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.AdmissionStatusInitiated, repo.admissions["adm-pending"].Status)
}

func TestAdmissionHandlerHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAdmissionHandlerFixture()
	repo.histories = append(repo.histories, models.AdmissionHistory{
		ID:          "hist-1",
		AdmissionID: "adm-pending",
		FromStatus:  models.AdmissionStatusInitiated,
		ToStatus:    models.AdmissionStatusPaymentPending,
	})

	c, w := newGinContext(http.MethodGet, "/admissions/adm-pending/history", nil)
	c.Params = gin.Params{{Key: "id", Value: "adm-pending"}}

	handler.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data []models.AdmissionHistory `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, models.AdmissionStatusPaymentPending, envelope.Data[0].ToStatus)
}
