package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/college-erp-api/internal/models"
	"github.com/noah-isme/college-erp-api/pkg/export"
	"github.com/noah-isme/college-erp-api/pkg/storage"
)

type rosterStub struct{}

func (rosterStub) ListBySemester(ctx context.Context, semesterID string, status models.StudentSemesterStatus) ([]models.StudentSemesterDetail, error) {
	end := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	return []models.StudentSemesterDetail{
		{
			StudentSemester: models.StudentSemester{
				StudentID:  "stu-1",
				SemesterID: semesterID,
				Status:     models.StudentSemesterStatusOngoing,
				FeePaid:    true,
				StartDate:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
				EndDate:    &end,
			},
			SemesterNumber: 1,
			StudentName:    "Asha Verma",
		},
	}, nil
}

type admissionListStub struct{}

func (admissionListStub) ListForExport(ctx context.Context, courseID string, status models.AdmissionStatus) ([]models.AdmissionDetail, error) {
	return []models.AdmissionDetail{
		{
			Admission: models.Admission{
				ID:        "adm-1",
				StudentID: "stu-1",
				CourseID:  courseID,
				Status:    models.AdmissionStatusConfirmed,
				CreatedAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
				UpdatedAt: time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC),
			},
			StudentName:  "Asha Verma",
			StudentRegNo: "REG-2026-0001",
			CourseName:   "BSc Physics",
			CourseCode:   "BSC-PHY",
		},
	}, nil
}

func newExportServiceForTest(t *testing.T) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}
	svc := NewExportService(rosterStub{}, admissionListStub{}, store, signer, cfg, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	return svc, store
}

func TestExportServiceGenerateRosterCSV(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeRoster,
		Params:    models.ReportJobParams{SemesterID: "sem-1", Format: models.ReportFormatCSV},
		CreatedBy: "admin",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, result.RelativePath)
	require.Contains(t, result.URL, "/export/")

	path := store.Path(result.RelativePath)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "Asha Verma")
	require.Contains(t, content, "ONGOING")
}

func TestExportServiceGenerateAdmissionsPDF(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-2",
		Type:      models.ReportTypeAdmissions,
		Params:    models.ReportJobParams{CourseID: "course-1", Format: models.ReportFormatPDF},
		CreatedBy: "admin",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.ReportFormatPDF, result.Format)

	path := filepath.Clean(store.Path(result.RelativePath))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestExportServiceRejectsUnknownType(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:     "job-3",
		Type:   "grades",
		Params: models.ReportJobParams{Format: models.ReportFormatCSV},
	}
	_, err := svc.Generate(context.Background(), job)
	require.Error(t, err)
}

func TestExportServiceTokenRoundTrip(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:     "job-4",
		Type:   models.ReportTypeRoster,
		Params: models.ReportJobParams{SemesterID: "sem-1", Format: models.ReportFormatCSV},
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)

	jobID, relPath, expiresAt, err := svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	require.Equal(t, "job-4", jobID)
	require.Equal(t, result.RelativePath, relPath)
	require.True(t, expiresAt.After(time.Now()))

	file, err := svc.Open(relPath)
	require.NoError(t, err)
	require.NoError(t, file.Close())
}
