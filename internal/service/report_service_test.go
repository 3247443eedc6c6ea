package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/college-erp-api/internal/dto"
	"github.com/noah-isme/college-erp-api/internal/models"
	"github.com/noah-isme/college-erp-api/internal/repository"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
	"github.com/noah-isme/college-erp-api/pkg/jobs"
)

type reportJobStoreMock struct {
	jobsByID map[string]*models.ReportJob
	nextID   int
}

func (m *reportJobStoreMock) Create(ctx context.Context, job *models.ReportJob) error {
	if m.jobsByID == nil {
		m.jobsByID = make(map[string]*models.ReportJob)
	}
	m.nextID++
	job.ID = fmt.Sprintf("job-%d", m.nextID)
	job.CreatedAt = time.Now().UTC()
	copied := *job
	m.jobsByID[job.ID] = &copied
	return nil
}

func (m *reportJobStoreMock) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	if job, ok := m.jobsByID[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *reportJobStoreMock) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := m.jobsByID[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *reportJobStoreMock) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range m.jobsByID {
		if job.Status == models.ReportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *reportJobStoreMock) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	return nil, nil
}

type queueMock struct {
	enqueued []jobs.Job
	err      error
}

func (m *queueMock) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

func newReportFixture(t *testing.T) (*ReportService, *reportJobStoreMock, *queueMock, *ExportService) {
	t.Helper()
	repo := &reportJobStoreMock{}
	queue := &queueMock{}
	exporter, _ := newExportServiceForTest(t)
	semesters := &mockSemesterReader{semesters: map[string]models.Semester{
		"sem-1": {ID: "sem-1", CourseID: "course-1", Number: 1},
	}}
	svc := NewReportService(repo, semesters, queue, exporter, zap.NewNop(), ReportServiceConfig{
		ResultTTL:  time.Hour,
		MaxRetries: 2,
	})
	return svc, repo, queue, exporter
}

func TestReportServiceCreateJob(t *testing.T) {
	svc, repo, queue, _ := newReportFixture(t)

	resp, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeRoster,
		SemesterID: "sem-1",
		Format:     models.ReportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, resp.ID, queue.enqueued[0].ID)
	assert.Equal(t, "admin-1", repo.jobsByID[resp.ID].CreatedBy)
}

func TestReportServiceCreateJobStatusFilter(t *testing.T) {
	svc, repo, _, _ := newReportFixture(t)

	resp, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:     models.ReportTypeAdmissions,
		CourseID: "course-1",
		Status:   "CONFIRMED",
		Format:   models.ReportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", repo.jobsByID[resp.ID].Params.Extras["status"])
}

func TestReportServiceCreateJobRosterRequiresSemester(t *testing.T) {
	svc, _, _, _ := newReportFixture(t)

	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:   models.ReportTypeRoster,
		Format: models.ReportFormatCSV,
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeRoster,
		SemesterID: "ghost",
		Format:     models.ReportFormatCSV,
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJobRejectsUnknownType(t *testing.T) {
	svc, _, _, _ := newReportFixture(t)

	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:   "grades",
		Format: models.ReportFormatCSV,
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceGetStatusOwnership(t *testing.T) {
	svc, repo, _, _ := newReportFixture(t)
	repo.jobsByID = map[string]*models.ReportJob{
		"job-1": {ID: "job-1", Status: models.ReportStatusFinished, Progress: 100, CreatedBy: "user-1"},
	}

	_, err := svc.GetStatus(context.Background(), "job-1", "user-2", models.RoleAccountant)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	resp, err := svc.GetStatus(context.Background(), "job-1", "user-1", models.RoleAccountant)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, resp.Status)

	resp, err = svc.GetStatus(context.Background(), "job-1", "someone-else", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 100, resp.Progress)
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	svc, repo, queue, exporter := newReportFixture(t)

	resp, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeRoster,
		SemesterID: "sem-1",
		Format:     models.ReportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)

	worker := NewReportWorker(repo, exporter, 2, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), queue.enqueued[0]))

	job := repo.jobsByID[resp.ID]
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Contains(t, *job.ResultURL, "/export/")
}

type failingExporter struct{}

func (failingExporter) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	return nil, fmt.Errorf("render failed")
}

func TestReportWorkerHandleFailureRetries(t *testing.T) {
	repo := &reportJobStoreMock{jobsByID: map[string]*models.ReportJob{
		"job-1": {ID: "job-1", Type: models.ReportTypeRoster, Status: models.ReportStatusQueued},
	}}
	worker := NewReportWorker(repo, failingExporter{}, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusQueued, repo.jobsByID["job-1"].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusFailed, repo.jobsByID["job-1"].Status)
	require.NotNil(t, repo.jobsByID["job-1"].ErrorMessage)
	assert.Equal(t, "render failed", *repo.jobsByID["job-1"].ErrorMessage)
}

func TestReportServiceResolveDownload(t *testing.T) {
	svc, repo, queue, exporter := newReportFixture(t)

	resp, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeRoster,
		SemesterID: "sem-1",
		Format:     models.ReportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)

	worker := NewReportWorker(repo, exporter, 2, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), queue.enqueued[0]))

	job := repo.jobsByID[resp.ID]
	token := extractToken(*job.ResultURL)
	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	assert.True(t, download.ExpiresAt.After(time.Now()))

	_, err = svc.ResolveDownload(context.Background(), "bogus-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceResolveDownloadNotReady(t *testing.T) {
	svc, repo, _, exporter := newReportFixture(t)

	resp, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeRoster,
		SemesterID: "sem-1",
		Format:     models.ReportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)

	// Forge a result URL while the job is still queued.
	result, err := exporter.Generate(context.Background(), repo.jobsByID[resp.ID])
	require.NoError(t, err)
	repo.jobsByID[resp.ID].ResultURL = &result.URL

	_, err = svc.ResolveDownload(context.Background(), result.Token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	svc, repo, queue, _ := newReportFixture(t)
	repo.jobsByID = map[string]*models.ReportJob{
		"job-1": {ID: "job-1", Type: models.ReportTypeRoster, Status: models.ReportStatusQueued},
		"job-2": {ID: "job-2", Type: models.ReportTypeAdmissions, Status: models.ReportStatusFinished},
	}

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "job-1", queue.enqueued[0].ID)
}
