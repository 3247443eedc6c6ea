package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentFindIDByUserID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM students WHERE user_id = $1 AND deleted = FALSE`)).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stu-1"))

	id, err := repo.FindIDByUserID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentFindIDByUserIDUnlinked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT id FROM students").
		WithArgs("u-9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindIDByUserID(context.Background(), "u-9")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
