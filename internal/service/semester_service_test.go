package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-erp-api/internal/models"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
)

type mockSemesterRepo struct {
	semesters map[string]models.Semester
}

func (m *mockSemesterRepo) FindByID(ctx context.Context, id string) (*models.Semester, error) {
	if s, ok := m.semesters[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSemesterRepo) FindByCourseAndNumber(ctx context.Context, courseID string, number int) (*models.Semester, error) {
	for _, s := range m.semesters {
		if s.CourseID == courseID && s.Number == number {
			found := s
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSemesterRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Semester, error) {
	var out []models.Semester
	for _, s := range m.semesters {
		if s.CourseID == courseID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *mockSemesterRepo) BulkCreate(ctx context.Context, semesters []models.Semester) error {
	if m.semesters == nil {
		m.semesters = make(map[string]models.Semester)
	}
	for _, s := range semesters {
		if s.ID == "" {
			s.ID = fmt.Sprintf("sem-%s-%d", s.CourseID, s.Number)
		}
		m.semesters[s.ID] = s
	}
	return nil
}

func newSemesterFixture() (*SemesterService, *mockSemesterRepo) {
	repo := &mockSemesterRepo{semesters: map[string]models.Semester{}}
	courses := &mockCourseReader{courses: map[string]models.Course{
		"course-1": {ID: "course-1", Name: "BSc Physics", DurationYears: 3},
	}}
	return NewSemesterService(repo, courses, nil, nil), repo
}

func TestSemesterServiceGenerate(t *testing.T) {
	svc, repo := newSemesterFixture()

	semesters, err := svc.Generate(context.Background(), GenerateSemestersRequest{CourseID: "course-1"})
	require.NoError(t, err)
	require.Len(t, semesters, 6)
	for i, semester := range semesters {
		assert.Equal(t, i+1, semester.Number)
	}
	assert.Len(t, repo.semesters, 6)
}

func TestSemesterServiceGenerateFillsGaps(t *testing.T) {
	svc, repo := newSemesterFixture()
	repo.semesters["sem-a"] = models.Semester{ID: "sem-a", CourseID: "course-1", Number: 1}
	repo.semesters["sem-b"] = models.Semester{ID: "sem-b", CourseID: "course-1", Number: 4}

	semesters, err := svc.Generate(context.Background(), GenerateSemestersRequest{CourseID: "course-1"})
	require.NoError(t, err)
	require.Len(t, semesters, 6)
	// Existing rows keep their identity.
	assert.Equal(t, "sem-a", semesters[0].ID)
	assert.Equal(t, "sem-b", semesters[3].ID)
}

func TestSemesterServiceGenerateIdempotent(t *testing.T) {
	svc, repo := newSemesterFixture()

	_, err := svc.Generate(context.Background(), GenerateSemestersRequest{CourseID: "course-1"})
	require.NoError(t, err)
	again, err := svc.Generate(context.Background(), GenerateSemestersRequest{CourseID: "course-1"})
	require.NoError(t, err)
	assert.Len(t, again, 6)
	assert.Len(t, repo.semesters, 6)
}

func TestSemesterServiceGenerateUnknownCourse(t *testing.T) {
	svc, _ := newSemesterFixture()

	_, err := svc.Generate(context.Background(), GenerateSemestersRequest{CourseID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSemesterServiceListByCourse(t *testing.T) {
	svc, repo := newSemesterFixture()
	repo.semesters["sem-2"] = models.Semester{ID: "sem-2", CourseID: "course-1", Number: 2}
	repo.semesters["sem-1"] = models.Semester{ID: "sem-1", CourseID: "course-1", Number: 1}

	semesters, err := svc.ListByCourse(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, semesters, 2)
	assert.Equal(t, 1, semesters[0].Number)
	assert.Equal(t, 2, semesters[1].Number)
}
