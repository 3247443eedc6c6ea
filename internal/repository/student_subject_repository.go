package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/college-erp-api/internal/models"
)

// StudentSubjectRepository handles persistence of curriculum picks.
type StudentSubjectRepository struct {
	db *sqlx.DB
}

// NewStudentSubjectRepository constructs the repository.
func NewStudentSubjectRepository(db *sqlx.DB) *StudentSubjectRepository {
	return &StudentSubjectRepository{db: db}
}

// Exists reports whether the (student, subject, semester) pick already exists.
func (r *StudentSubjectRepository) Exists(ctx context.Context, studentID, subjectID, semesterID string) (bool, error) {
	const query = `SELECT 1 FROM student_subjects WHERE student_id = $1 AND subject_id = $2 AND semester_id = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, subjectID, semesterID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student subject: %w", err)
	}
	return true, nil
}

// TypesHeld returns the subject types the student already holds for the semester.
func (r *StudentSubjectRepository) TypesHeld(ctx context.Context, studentID, semesterID string) (map[models.SubjectType]bool, error) {
	const query = `SELECT DISTINCT sub.type FROM student_subjects ss
        JOIN subjects sub ON sub.id = ss.subject_id
        WHERE ss.student_id = $1 AND ss.semester_id = $2`
	var types []models.SubjectType
	if err := r.db.SelectContext(ctx, &types, query, studentID, semesterID); err != nil {
		return nil, fmt.Errorf("list held subject types: %w", err)
	}
	held := make(map[models.SubjectType]bool, len(types))
	for _, t := range types {
		held[t] = true
	}
	return held, nil
}

// ListByStudentSemester returns a student's picks for one semester with subject info.
func (r *StudentSubjectRepository) ListByStudentSemester(ctx context.Context, studentID, semesterID string) ([]models.StudentSubjectDetail, error) {
	const query = `SELECT ss.id, ss.student_id, ss.subject_id, ss.semester_id, ss.created_at,
        sub.code AS subject_code, sub.name AS subject_name, sub.type AS subject_type, sub.credit
        FROM student_subjects ss
        JOIN subjects sub ON sub.id = ss.subject_id
        WHERE ss.student_id = $1 AND ss.semester_id = $2
        ORDER BY sub.code ASC`
	var rows []models.StudentSubjectDetail
	if err := r.db.SelectContext(ctx, &rows, query, studentID, semesterID); err != nil {
		return nil, fmt.Errorf("list student subjects: %w", err)
	}
	return rows, nil
}

// FindByID returns one pick by its identifier.
func (r *StudentSubjectRepository) FindByID(ctx context.Context, id string) (*models.StudentSubject, error) {
	const query = `SELECT id, student_id, subject_id, semester_id, created_at FROM student_subjects WHERE id = $1`
	var row models.StudentSubject
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// Create persists one pick.
func (r *StudentSubjectRepository) Create(ctx context.Context, row *models.StudentSubject) error {
	prepareStudentSubject(row)
	const query = `INSERT INTO student_subjects (id, student_id, subject_id, semester_id, created_at)
        VALUES (:id, :student_id, :subject_id, :semester_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create student subject: %w", err)
	}
	return nil
}

// BulkCreate inserts picks as one atomic batch. Any failure rolls the whole batch back.
func (r *StudentSubjectRepository) BulkCreate(ctx context.Context, rows []models.StudentSubject) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range rows {
		prepareStudentSubject(&rows[i])
		const query = `INSERT INTO student_subjects (id, student_id, subject_id, semester_id, created_at)
                VALUES (:id, :student_id, :subject_id, :semester_id, :created_at)`
		if _, err := tx.NamedExecContext(ctx, query, rows[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("bulk create student subject: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit student subjects: %w", err)
	}
	return nil
}

// Delete removes one pick.
func (r *StudentSubjectRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM student_subjects WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete student subject: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func prepareStudentSubject(row *models.StudentSubject) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
}
