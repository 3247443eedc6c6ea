package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/college-erp-api/internal/models"
)

// SemesterRepository handles persistence of curriculum semesters.
type SemesterRepository struct {
	db *sqlx.DB
}

// NewSemesterRepository constructs the repository.
func NewSemesterRepository(db *sqlx.DB) *SemesterRepository {
	return &SemesterRepository{db: db}
}

// FindByID returns a semester by its ID.
func (r *SemesterRepository) FindByID(ctx context.Context, id string) (*models.Semester, error) {
	const query = `SELECT id, course_id, number, created_at FROM semesters WHERE id = $1`
	var semester models.Semester
	if err := r.db.GetContext(ctx, &semester, query, id); err != nil {
		return nil, err
	}
	return &semester, nil
}

// FindByCourseAndNumber returns the semester with the given number inside a course.
func (r *SemesterRepository) FindByCourseAndNumber(ctx context.Context, courseID string, number int) (*models.Semester, error) {
	const query = `SELECT id, course_id, number, created_at FROM semesters WHERE course_id = $1 AND number = $2`
	var semester models.Semester
	if err := r.db.GetContext(ctx, &semester, query, courseID, number); err != nil {
		return nil, err
	}
	return &semester, nil
}

// ListByCourse returns a course's semesters ordered by number.
func (r *SemesterRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Semester, error) {
	const query = `SELECT id, course_id, number, created_at FROM semesters WHERE course_id = $1 ORDER BY number ASC`
	var semesters []models.Semester
	if err := r.db.SelectContext(ctx, &semesters, query, courseID); err != nil {
		return nil, fmt.Errorf("list semesters: %w", err)
	}
	return semesters, nil
}

// BulkCreate inserts a course's curriculum semesters in one transaction.
// (course_id, number) carries a unique constraint; duplicates abort the batch.
func (r *SemesterRepository) BulkCreate(ctx context.Context, semesters []models.Semester) error {
	if len(semesters) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range semesters {
		if semesters[i].ID == "" {
			semesters[i].ID = uuid.NewString()
		}
		if semesters[i].CreatedAt.IsZero() {
			semesters[i].CreatedAt = time.Now().UTC()
		}
		const query = `INSERT INTO semesters (id, course_id, number, created_at)
                VALUES (:id, :course_id, :number, :created_at)`
		if _, err := tx.NamedExecContext(ctx, query, semesters[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("bulk create semester: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit semesters: %w", err)
	}
	return nil
}
