package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/college-erp-api/internal/models"
)

// StudentSemesterRepository handles persistence of semester occupancy records.
type StudentSemesterRepository struct {
	db *sqlx.DB
}

// NewStudentSemesterRepository constructs the repository.
func NewStudentSemesterRepository(db *sqlx.DB) *StudentSemesterRepository {
	return &StudentSemesterRepository{db: db}
}

const studentSemesterColumns = `id, student_id, semester_id, status, fee_paid, start_date, end_date, created_at, updated_at`

// FindByStudentAndSemester returns the occupancy row for one student in one semester.
func (r *StudentSemesterRepository) FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.StudentSemester, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_semesters WHERE student_id = $1 AND semester_id = $2`, studentSemesterColumns)
	var row models.StudentSemester
	if err := r.db.GetContext(ctx, &row, query, studentID, semesterID); err != nil {
		return nil, err
	}
	return &row, nil
}

// FindOngoingByStudent returns the student's ONGOING row, if any.
func (r *StudentSemesterRepository) FindOngoingByStudent(ctx context.Context, studentID string) (*models.StudentSemester, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_semesters WHERE student_id = $1 AND status = $2 LIMIT 1`, studentSemesterColumns)
	var row models.StudentSemester
	if err := r.db.GetContext(ctx, &row, query, studentID, models.StudentSemesterStatusOngoing); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByStudent returns a student's occupancy rows enriched with semester info.
func (r *StudentSemesterRepository) ListByStudent(ctx context.Context, studentID string) ([]models.StudentSemesterDetail, error) {
	const query = `SELECT ss.id, ss.student_id, ss.semester_id, ss.status, ss.fee_paid, ss.start_date, ss.end_date, ss.created_at, ss.updated_at,
        sem.number AS semester_number, sem.course_id, s.full_name AS student_name
        FROM student_semesters ss
        JOIN semesters sem ON sem.id = ss.semester_id
        JOIN students s ON s.id = ss.student_id
        WHERE ss.student_id = $1 ORDER BY sem.number ASC`
	var rows []models.StudentSemesterDetail
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("list student semesters: %w", err)
	}
	return rows, nil
}

// ListBySemester returns occupancy rows for one semester, optionally filtered by status.
func (r *StudentSemesterRepository) ListBySemester(ctx context.Context, semesterID string, status models.StudentSemesterStatus) ([]models.StudentSemesterDetail, error) {
	query := `SELECT ss.id, ss.student_id, ss.semester_id, ss.status, ss.fee_paid, ss.start_date, ss.end_date, ss.created_at, ss.updated_at,
        sem.number AS semester_number, sem.course_id, s.full_name AS student_name
        FROM student_semesters ss
        JOIN semesters sem ON sem.id = ss.semester_id
        JOIN students s ON s.id = ss.student_id
        WHERE ss.semester_id = $1`
	args := []interface{}{semesterID}
	if status != "" {
		query += fmt.Sprintf(" AND ss.status = $%d", len(args)+1)
		args = append(args, status)
	}
	query += " ORDER BY s.full_name ASC"
	var rows []models.StudentSemesterDetail
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list semester students: %w", err)
	}
	return rows, nil
}

// StudentIDsForSemester returns the set of students already holding a row for the semester.
func (r *StudentSemesterRepository) StudentIDsForSemester(ctx context.Context, semesterID string) (map[string]bool, error) {
	const query = `SELECT student_id FROM student_semesters WHERE semester_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, semesterID); err != nil {
		return nil, fmt.Errorf("semester student ids: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// StudentIDsWithOngoing returns which of the given students hold an ONGOING row anywhere.
func (r *StudentSemesterRepository) StudentIDsWithOngoing(ctx context.Context, studentIDs []string) (map[string]bool, error) {
	set := make(map[string]bool, len(studentIDs))
	if len(studentIDs) == 0 {
		return set, nil
	}
	placeholders := make([]string, len(studentIDs))
	args := make([]interface{}, 0, len(studentIDs)+1)
	for i, id := range studentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	args = append(args, models.StudentSemesterStatusOngoing)
	query := fmt.Sprintf(`SELECT DISTINCT student_id FROM student_semesters WHERE student_id IN (%s) AND status = $%d`,
		strings.Join(placeholders, ","), len(args))
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("ongoing student ids: %w", err)
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// StudentIDsWithStatus returns students holding the given status for one semester.
func (r *StudentSemesterRepository) StudentIDsWithStatus(ctx context.Context, semesterID string, status models.StudentSemesterStatus) (map[string]bool, error) {
	const query = `SELECT student_id FROM student_semesters WHERE semester_id = $1 AND status = $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, semesterID, status); err != nil {
		return nil, fmt.Errorf("semester status student ids: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// MaxCompletedNumbers maps each student of a course to the highest semester
// number they have COMPLETED or been PROMOTED from.
func (r *StudentSemesterRepository) MaxCompletedNumbers(ctx context.Context, courseID string) (map[string]int, error) {
	const query = `SELECT ss.student_id, MAX(sem.number) AS number
        FROM student_semesters ss
        JOIN semesters sem ON sem.id = ss.semester_id
        WHERE sem.course_id = $1 AND ss.status IN ($2, $3)
        GROUP BY ss.student_id`
	rows, err := r.db.QueryxContext(ctx, query, courseID, models.StudentSemesterStatusCompleted, models.StudentSemesterStatusPromoted)
	if err != nil {
		return nil, fmt.Errorf("max completed numbers: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	result := make(map[string]int)
	for rows.Next() {
		var studentID string
		var number int
		if err := rows.Scan(&studentID, &number); err != nil {
			return nil, fmt.Errorf("scan completed number: %w", err)
		}
		result[studentID] = number
	}
	return result, rows.Err()
}

// Create persists a new occupancy row.
func (r *StudentSemesterRepository) Create(ctx context.Context, row *models.StudentSemester) error {
	prepareStudentSemester(row)
	const query = `INSERT INTO student_semesters (id, student_id, semester_id, status, fee_paid, start_date, end_date, created_at, updated_at)
        VALUES (:id, :student_id, :semester_id, :status, :fee_paid, :start_date, :end_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create student semester: %w", err)
	}
	return nil
}

// BulkCreate inserts occupancy rows as one atomic batch.
func (r *StudentSemesterRepository) BulkCreate(ctx context.Context, rows []models.StudentSemester) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range rows {
		prepareStudentSemester(&rows[i])
		const query = `INSERT INTO student_semesters (id, student_id, semester_id, status, fee_paid, start_date, end_date, created_at, updated_at)
                VALUES (:id, :student_id, :semester_id, :status, :fee_paid, :start_date, :end_date, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, rows[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("bulk create student semester: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit student semesters: %w", err)
	}
	return nil
}

// UpdateStatus updates status and, when provided, the fee flag of one row.
func (r *StudentSemesterRepository) UpdateStatus(ctx context.Context, studentID, semesterID string, status models.StudentSemesterStatus, feePaid *bool) error {
	query := `UPDATE student_semesters SET status = $3, updated_at = $4`
	args := []interface{}{studentID, semesterID, status, time.Now().UTC()}
	if feePaid != nil {
		query += fmt.Sprintf(", fee_paid = $%d", len(args)+1)
		args = append(args, *feePaid)
	}
	query += " WHERE student_id = $1 AND semester_id = $2"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update student semester status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PromoteAndCreate marks source rows PROMOTED and inserts the next-semester
// rows in a single transaction.
func (r *StudentSemesterRepository) PromoteAndCreate(ctx context.Context, sourceSemesterID string, studentIDs []string, next []models.StudentSemester) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range next {
		prepareStudentSemester(&next[i])
		const query = `INSERT INTO student_semesters (id, student_id, semester_id, status, fee_paid, start_date, end_date, created_at, updated_at)
                VALUES (:id, :student_id, :semester_id, :status, :fee_paid, :start_date, :end_date, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, next[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("create promoted student semester: %w", err)
		}
	}
	now := time.Now().UTC()
	for _, studentID := range studentIDs {
		const query = `UPDATE student_semesters SET status = $3, updated_at = $4 WHERE student_id = $1 AND semester_id = $2`
		if _, err := tx.ExecContext(ctx, query, studentID, sourceSemesterID, models.StudentSemesterStatusPromoted, now); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("mark student semester promoted: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promotion: %w", err)
	}
	return nil
}

func prepareStudentSemester(row *models.StudentSemester) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.Status == "" {
		row.Status = models.StudentSemesterStatusOngoing
	}
	if row.StartDate.IsZero() {
		row.StartDate = now
	}
}
