package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-erp-api/internal/models"
)

func TestAdmissionExistsForStudentCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM admissions WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsForStudentCourse(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM admissions WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("stu-1", "course-2").
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ExistsForStudentCourse(context.Background(), "stu-1", "course-2")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionCreateFillsDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdmissionRepository(db)

	mock.ExpectExec("INSERT INTO admissions").
		WithArgs(sqlmock.AnyArg(), "stu-1", "course-1", string(models.AdmissionStatusInitiated), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	admission := &models.Admission{StudentID: "stu-1", CourseID: "course-1"}
	require.NoError(t, repo.Create(context.Background(), admission))
	assert.NotEmpty(t, admission.ID)
	assert.Equal(t, models.AdmissionStatusInitiated, admission.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionUpdateStatusWithHistory(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdmissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE admissions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("adm-1", string(models.AdmissionStatusInitiated), string(models.AdmissionStatusPaymentPending), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO admission_history").
		WithArgs(sqlmock.AnyArg(), "adm-1", string(models.AdmissionStatusInitiated), string(models.AdmissionStatusPaymentPending), "admin", "fees due", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	history := &models.AdmissionHistory{
		AdmissionID: "adm-1",
		FromStatus:  models.AdmissionStatusInitiated,
		ToStatus:    models.AdmissionStatusPaymentPending,
		ChangedBy:   "admin",
		Notes:       "fees due",
	}
	err := repo.UpdateStatusWithHistory(context.Background(), "adm-1", models.AdmissionStatusInitiated, models.AdmissionStatusPaymentPending, history)
	require.NoError(t, err)
	assert.NotEmpty(t, history.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionUpdateStatusWithHistoryGuard(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdmissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE admissions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("adm-1", string(models.AdmissionStatusInitiated), string(models.AdmissionStatusPaymentPending), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	history := &models.AdmissionHistory{AdmissionID: "adm-1"}
	err := repo.UpdateStatusWithHistory(context.Background(), "adm-1", models.AdmissionStatusInitiated, models.AdmissionStatusPaymentPending, history)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionListHistory(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdmissionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "admission_id", "from_status", "to_status", "changed_by", "notes", "created_at"}).
		AddRow("hist-1", "adm-1", "INITIATED", "PAYMENT_PENDING", "admin", "", now.Add(-time.Hour)).
		AddRow("hist-2", "adm-1", "PAYMENT_PENDING", "CONFIRMED", "admin", "paid", now)
	mock.ExpectQuery("FROM admission_history WHERE admission_id = ").
		WithArgs("adm-1").
		WillReturnRows(rows)

	history, err := repo.ListHistory(context.Background(), "adm-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.AdmissionStatusConfirmed, history[1].ToStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
