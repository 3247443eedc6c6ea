package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type mockSemesterReader struct {
	semesters map[string]models.Semester
}

func (m *mockSemesterReader) FindByID(ctx context.Context, id string) (*models.Semester, error) {
	if s, ok := m.semesters[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSemesterReader) FindByCourseAndNumber(ctx context.Context, courseID string, number int) (*models.Semester, error) {
	for _, s := range m.semesters {
		if s.CourseID == courseID && s.Number == number {
			found := s
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

type mockAssignmentStore struct {
	rows     map[string]models.StudentSemester
	promoted []string
}

func assignmentKey(studentID, semesterID string) string {
	return studentID + "|" + semesterID
}

func (m *mockAssignmentStore) FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.StudentSemester, error) {
	if r, ok := m.rows[assignmentKey(studentID, semesterID)]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAssignmentStore) FindOngoingByStudent(ctx context.Context, studentID string) (*models.StudentSemester, error) {
	for _, r := range m.rows {
		if r.StudentID == studentID && r.Status == models.StudentSemesterStatusOngoing {
			found := r
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAssignmentStore) ListByStudent(ctx context.Context, studentID string) ([]models.StudentSemesterDetail, error) {
	var out []models.StudentSemesterDetail
	for _, r := range m.rows {
		if r.StudentID == studentID {
			out = append(out, models.StudentSemesterDetail{StudentSemester: r})
		}
	}
	return out, nil
}

func (m *mockAssignmentStore) ListBySemester(ctx context.Context, semesterID string, status models.StudentSemesterStatus) ([]models.StudentSemesterDetail, error) {
	var out []models.StudentSemesterDetail
	for _, r := range m.rows {
		if r.SemesterID != semesterID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, models.StudentSemesterDetail{StudentSemester: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *mockAssignmentStore) StudentIDsForSemester(ctx context.Context, semesterID string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, r := range m.rows {
		if r.SemesterID == semesterID {
			out[r.StudentID] = true
		}
	}
	return out, nil
}

func (m *mockAssignmentStore) StudentIDsWithOngoing(ctx context.Context, studentIDs []string) (map[string]bool, error) {
	wanted := map[string]bool{}
	for _, id := range studentIDs {
		wanted[id] = true
	}
	out := map[string]bool{}
	for _, r := range m.rows {
		if wanted[r.StudentID] && r.Status == models.StudentSemesterStatusOngoing {
			out[r.StudentID] = true
		}
	}
	return out, nil
}

func (m *mockAssignmentStore) StudentIDsWithStatus(ctx context.Context, semesterID string, status models.StudentSemesterStatus) (map[string]bool, error) {
	out := map[string]bool{}
	for _, r := range m.rows {
		if r.SemesterID == semesterID && r.Status == status {
			out[r.StudentID] = true
		}
	}
	return out, nil
}

func (m *mockAssignmentStore) MaxCompletedNumbers(ctx context.Context, courseID string) (map[string]int, error) {
	return map[string]int{}, nil
}

func (m *mockAssignmentStore) Create(ctx context.Context, row *models.StudentSemester) error {
	if m.rows == nil {
		m.rows = make(map[string]models.StudentSemester)
	}
	if row.ID == "" {
		row.ID = "ss-" + row.StudentID + "-" + row.SemesterID
	}
	m.rows[assignmentKey(row.StudentID, row.SemesterID)] = *row
	return nil
}

func (m *mockAssignmentStore) BulkCreate(ctx context.Context, rows []models.StudentSemester) error {
	for i := range rows {
		if err := m.Create(ctx, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockAssignmentStore) UpdateStatus(ctx context.Context, studentID, semesterID string, status models.StudentSemesterStatus, feePaid *bool) error {
	key := assignmentKey(studentID, semesterID)
	r, ok := m.rows[key]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	if feePaid != nil {
		r.FeePaid = *feePaid
	}
	m.rows[key] = r
	return nil
}

func (m *mockAssignmentStore) PromoteAndCreate(ctx context.Context, sourceSemesterID string, studentIDs []string, next []models.StudentSemester) error {
	for _, id := range studentIDs {
		key := assignmentKey(id, sourceSemesterID)
		r, ok := m.rows[key]
		if !ok {
			return sql.ErrNoRows
		}
		r.Status = models.StudentSemesterStatusPromoted
		m.rows[key] = r
		m.promoted = append(m.promoted, id)
	}
	return m.BulkCreate(ctx, next)
}

type mockProgressionStudents struct {
	students map[string]models.StudentDetail
	statuses map[string]models.StudentStatus
}

func (m *mockProgressionStudents) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockProgressionStudents) UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error {
	if m.statuses == nil {
		m.statuses = make(map[string]models.StudentStatus)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockProgressionStudents) ListActiveByCourse(ctx context.Context, courseID, sessionID string) ([]models.Student, error) {
	var out []models.Student
	for _, s := range m.students {
		if s.CourseID != courseID || s.Status != models.StudentStatusActive {
			continue
		}
		if sessionID != "" && s.SessionID != sessionID {
			continue
		}
		out = append(out, s.Student)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func newProgressionFixture() (*ProgressionService, *mockSemesterReader, *mockAssignmentStore, *mockProgressionStudents, *mockAuditLogger) {
	semesters := &mockSemesterReader{semesters: map[string]models.Semester{
		"sem-1": {ID: "sem-1", CourseID: "course-1", Number: 1},
		"sem-2": {ID: "sem-2", CourseID: "course-1", Number: 2},
	}}
	assignments := &mockAssignmentStore{rows: map[string]models.StudentSemester{}}
	students := &mockProgressionStudents{students: map[string]models.StudentDetail{
		"stu-1": {Student: models.Student{ID: "stu-1", CourseID: "course-1", SessionID: "sess-1", Status: models.StudentStatusActive}},
		"stu-2": {Student: models.Student{ID: "stu-2", CourseID: "course-1", SessionID: "sess-1", Status: models.StudentStatusActive}},
	}}
	audit := &mockAuditLogger{}
	svc := NewProgressionService(semesters, assignments, students, audit, 0, nil, nil)
	return svc, semesters, assignments, students, audit
}

func TestProgressionAssign(t *testing.T) {
	svc, _, assignments, _, audit := newProgressionFixture()

	row, err := svc.Assign(context.Background(), AssignSemesterRequest{StudentID: "stu-1", SemesterID: "sem-1", FeePaid: true}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentSemesterStatusOngoing, row.Status)
	assert.True(t, row.FeePaid)
	require.NotNil(t, row.EndDate)
	assert.True(t, row.EndDate.After(row.StartDate))
	assert.Len(t, assignments.rows, 1)
	assert.Contains(t, audit.actions(), models.AuditActionSemesterAssign)
}

func TestProgressionAssignDuplicate(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusCompleted}

	_, err := svc.Assign(context.Background(), AssignSemesterRequest{StudentID: "stu-1", SemesterID: "sem-1"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyAssigned.Code, appErrors.FromError(err).Code)
}

func TestProgressionAssignSecondOngoingRejected(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusOngoing}

	_, err := svc.Assign(context.Background(), AssignSemesterRequest{StudentID: "stu-1", SemesterID: "sem-2"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConstraintViolation.Code, appErrors.FromError(err).Code)
}

func TestProgressionAssignWrongCourse(t *testing.T) {
	svc, semesters, _, _, _ := newProgressionFixture()
	semesters.semesters["sem-x"] = models.Semester{ID: "sem-x", CourseID: "course-other", Number: 1}

	_, err := svc.Assign(context.Background(), AssignSemesterRequest{StudentID: "stu-1", SemesterID: "sem-x"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConstraintViolation.Code, appErrors.FromError(err).Code)
}

func TestProgressionSetStatusCompletedCascades(t *testing.T) {
	svc, _, assignments, _, audit := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{ID: "ss-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusOngoing}

	feePaid := true
	row, err := svc.SetStatus(context.Background(), "stu-1", "sem-1", SetStatusRequest{Status: models.StudentSemesterStatusCompleted, FeePaid: &feePaid}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentSemesterStatusCompleted, row.Status)
	assert.True(t, row.FeePaid)

	next, ok := assignments.rows[assignmentKey("stu-1", "sem-2")]
	require.True(t, ok, "completion should open the next semester")
	assert.Equal(t, models.StudentSemesterStatusOngoing, next.Status)
	assert.False(t, next.FeePaid)
	assert.Contains(t, audit.actions(), models.AuditActionSemesterAutoAssign)
}

func TestProgressionSetStatusFinalSemesterPassesOut(t *testing.T) {
	svc, _, assignments, students, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-2")] = models.StudentSemester{ID: "ss-2", StudentID: "stu-1", SemesterID: "sem-2", Status: models.StudentSemesterStatusOngoing}

	_, err := svc.SetStatus(context.Background(), "stu-1", "sem-2", SetStatusRequest{Status: models.StudentSemesterStatusCompleted}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusPassedOut, students.statuses["stu-1"])
}

func TestProgressionSetStatusFailedNoCascade(t *testing.T) {
	svc, _, assignments, students, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{ID: "ss-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusOngoing}

	row, err := svc.SetStatus(context.Background(), "stu-1", "sem-1", SetStatusRequest{Status: models.StudentSemesterStatusFailed}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentSemesterStatusFailed, row.Status)
	_, cascaded := assignments.rows[assignmentKey("stu-1", "sem-2")]
	assert.False(t, cascaded)
	assert.Empty(t, students.statuses)
}

func TestProgressionSetStatusCascadeIdempotent(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{ID: "ss-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusCompleted}
	assignments.rows[assignmentKey("stu-1", "sem-2")] = models.StudentSemester{ID: "ss-2", StudentID: "stu-1", SemesterID: "sem-2", Status: models.StudentSemesterStatusFailed}

	_, err := svc.SetStatus(context.Background(), "stu-1", "sem-1", SetStatusRequest{Status: models.StudentSemesterStatusCompleted}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentSemesterStatusFailed, assignments.rows[assignmentKey("stu-1", "sem-2")].Status)
}

func TestProgressionSetStatusUnknownRecord(t *testing.T) {
	svc, _, _, _, _ := newProgressionFixture()

	_, err := svc.SetStatus(context.Background(), "stu-1", "sem-1", SetStatusRequest{Status: models.StudentSemesterStatusCompleted}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestProgressionBulkSetStatus(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{ID: "ss-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusOngoing}
	assignments.rows[assignmentKey("stu-2", "sem-1")] = models.StudentSemester{ID: "ss-2", StudentID: "stu-2", SemesterID: "sem-1", Status: models.StudentSemesterStatusOngoing}

	res, err := svc.BulkSetStatus(context.Background(), "sem-1", BulkSetStatusRequest{
		StudentIDs: []string{"stu-1", "stu-2", "stu-missing"},
		Status:     models.StudentSemesterStatusCompleted,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"stu-missing"}, res.Missing)
}

func TestProgressionBulkSetStatusInvalidStatus(t *testing.T) {
	svc, _, _, _, _ := newProgressionFixture()

	_, err := svc.BulkSetStatus(context.Background(), "sem-1", BulkSetStatusRequest{
		StudentIDs: []string{"stu-1"},
		Status:     "GRADUATED",
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidStatus.Code, appErrors.FromError(err).Code)
}

func TestProgressionAutoAssignFirstSemester(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()

	res, err := svc.AutoAssign(context.Background(), "sem-1", AutoAssignRequest{}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Assigned)
	assert.ElementsMatch(t, []string{"stu-1", "stu-2"}, res.StudentIDs)
	assert.Len(t, assignments.rows, 2)
}

func TestProgressionAutoAssignSkipsOngoingAndExisting(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusOngoing}
	assignments.rows[assignmentKey("stu-2", "sem-2")] = models.StudentSemester{StudentID: "stu-2", SemesterID: "sem-2", Status: models.StudentSemesterStatusOngoing}

	res, err := svc.AutoAssign(context.Background(), "sem-1", AutoAssignRequest{}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Assigned)
}

func TestProgressionAutoAssignRequiresPreviousCompletion(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusCompleted}
	assignments.rows[assignmentKey("stu-2", "sem-1")] = models.StudentSemester{StudentID: "stu-2", SemesterID: "sem-1", Status: models.StudentSemesterStatusFailed}

	res, err := svc.AutoAssign(context.Background(), "sem-2", AutoAssignRequest{}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)
	assert.Equal(t, []string{"stu-1"}, res.StudentIDs)
}

func TestProgressionAutoAssignSessionFilter(t *testing.T) {
	svc, _, _, students, _ := newProgressionFixture()
	students.students["stu-3"] = models.StudentDetail{Student: models.Student{ID: "stu-3", CourseID: "course-1", SessionID: "sess-2", Status: models.StudentStatusActive}}

	res, err := svc.AutoAssign(context.Background(), "sem-1", AutoAssignRequest{SessionID: "sess-2"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)
	assert.Equal(t, []string{"stu-3"}, res.StudentIDs)
}

func TestProgressionPromote(t *testing.T) {
	svc, _, assignments, _, audit := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusCompleted}
	assignments.rows[assignmentKey("stu-2", "sem-1")] = models.StudentSemester{StudentID: "stu-2", SemesterID: "sem-1", Status: models.StudentSemesterStatusFailed}

	res, err := svc.Promote(context.Background(), "sem-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, []string{"stu-1"}, res.StudentIDs)

	assert.Equal(t, models.StudentSemesterStatusPromoted, assignments.rows[assignmentKey("stu-1", "sem-1")].Status)
	assert.Equal(t, models.StudentSemesterStatusFailed, assignments.rows[assignmentKey("stu-2", "sem-1")].Status)
	next, ok := assignments.rows[assignmentKey("stu-1", "sem-2")]
	require.True(t, ok)
	assert.Equal(t, models.StudentSemesterStatusOngoing, next.Status)
	assert.Contains(t, audit.actions(), models.AuditActionSemesterPromote)
}

func TestProgressionPromoteIdempotent(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-1")] = models.StudentSemester{StudentID: "stu-1", SemesterID: "sem-1", Status: models.StudentSemesterStatusCompleted}

	first, err := svc.Promote(context.Background(), "sem-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Promoted)

	second, err := svc.Promote(context.Background(), "sem-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Promoted)
}

func TestProgressionPromoteNoNextSemester(t *testing.T) {
	svc, _, assignments, _, _ := newProgressionFixture()
	assignments.rows[assignmentKey("stu-1", "sem-2")] = models.StudentSemester{StudentID: "stu-1", SemesterID: "sem-2", Status: models.StudentSemesterStatusCompleted}

	_, err := svc.Promote(context.Background(), "sem-2", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
