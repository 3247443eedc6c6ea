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

func TestStudentSubjectExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM student_subjects WHERE student_id = $1 AND subject_id = $2 AND semester_id = $3 LIMIT 1")).
		WithArgs("stu-1", "subj-1", "sem-1").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.Exists(context.Background(), "stu-1", "subj-1", "sem-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentSubjectTypesHeld(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentSubjectRepository(db)

	rows := sqlmock.NewRows([]string{"type"}).AddRow("MJC").AddRow("SEC")
	mock.ExpectQuery("SELECT DISTINCT sub.type FROM student_subjects ss").
		WithArgs("stu-1", "sem-1").
		WillReturnRows(rows)

	held, err := repo.TypesHeld(context.Background(), "stu-1", "sem-1")
	require.NoError(t, err)
	assert.True(t, held[models.SubjectTypeMJC])
	assert.True(t, held[models.SubjectTypeSEC])
	assert.False(t, held[models.SubjectTypeMIC])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentSubjectListByStudentSemester(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentSubjectRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "subject_id", "semester_id", "created_at", "subject_code", "subject_name", "subject_type", "credit"}).
		AddRow("ss-1", "stu-1", "subj-1", "sem-1", now, "PHY101", "Mechanics", "MJC", 4)
	mock.ExpectQuery("FROM student_subjects ss").
		WithArgs("stu-1", "sem-1").
		WillReturnRows(rows)

	picks, err := repo.ListByStudentSemester(context.Background(), "stu-1", "sem-1")
	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.Equal(t, "PHY101", picks[0].SubjectCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentSubjectBulkCreateRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentSubjectRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO student_subjects").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO student_subjects").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	rows := []models.StudentSubject{
		{StudentID: "stu-1", SubjectID: "subj-1", SemesterID: "sem-1"},
		{StudentID: "stu-1", SubjectID: "subj-2", SemesterID: "sem-1"},
	}
	err := repo.BulkCreate(context.Background(), rows)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentSubjectDeleteMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentSubjectRepository(db)

	mock.ExpectExec("DELETE FROM student_subjects WHERE id = ").
		WithArgs("ss-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "ss-missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
