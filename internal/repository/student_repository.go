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

// StudentRepository handles persistence of students.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentDetailColumns = `s.id, s.user_id, s.registration_number, s.full_name, s.email, s.phone, s.course_id, s.session_id, s.status, s.deleted, s.created_at, s.updated_at,
        c.name AS course_name, sn.name AS session_name, ss.semester_id AS current_semester_id, sem.number AS current_semester_number`

const studentDetailJoins = `FROM students s
        LEFT JOIN courses c ON c.id = s.course_id
        LEFT JOIN sessions sn ON sn.id = s.session_id
        LEFT JOIN student_semesters ss ON ss.student_id = s.id AND ss.status = 'ONGOING'
        LEFT JOIN semesters sem ON sem.id = ss.semester_id`

// List returns students filtered by the provided criteria. Tombstoned rows are excluded.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := studentDetailJoins + " WHERE s.deleted = FALSE"
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("s.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("s.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR LOWER(s.registration_number) LIKE $%d OR LOWER(s.email) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"full_name":           "s.full_name",
		"registration_number": "s.registration_number",
		"created_at":          "s.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "s.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", studentDetailColumns, base+clause, orderBy, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT s.id) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student with course context. Tombstoned rows are not returned.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE s.id = $1 AND s.deleted = FALSE", studentDetailColumns, studentDetailJoins)
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// NextRegistrationSequence reserves the next value of the registration counter.
func (r *StudentRepository) NextRegistrationSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, "SELECT nextval('student_registration_seq')"); err != nil {
		return 0, fmt.Errorf("next registration sequence: %w", err)
	}
	return seq, nil
}

// Create persists a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	if student.Status == "" {
		student.Status = models.StudentStatusActive
	}
	const query = `INSERT INTO students (id, user_id, registration_number, full_name, email, phone, course_id, session_id, status, deleted, created_at, updated_at)
        VALUES (:id, :user_id, :registration_number, :full_name, :email, :phone, :course_id, :session_id, :status, :deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update updates mutable profile fields of a student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, email = :email, phone = :phone, session_id = :session_id, updated_at = :updated_at
        WHERE id = :id AND deleted = FALSE`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// UpdateStatus sets the lifecycle status of a student.
func (r *StudentRepository) UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error {
	const query = `UPDATE students SET status = $2, updated_at = $3 WHERE id = $1 AND deleted = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	return nil
}

// SoftDelete tombstones a student. Rows are never physically removed.
func (r *StudentRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE students SET deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete student: %w", err)
	}
	return nil
}

// ListActiveByCourse returns ACTIVE students of a course, optionally narrowed by session.
func (r *StudentRepository) ListActiveByCourse(ctx context.Context, courseID, sessionID string) ([]models.Student, error) {
	query := `SELECT id, user_id, registration_number, full_name, email, phone, course_id, session_id, status, deleted, created_at, updated_at
        FROM students WHERE course_id = $1 AND status = $2 AND deleted = FALSE`
	args := []interface{}{courseID, models.StudentStatusActive}
	if sessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", len(args)+1)
		args = append(args, sessionID)
	}
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return students, nil
}

// FindIDByUserID resolves the student record linked to a login account.
// Returns sql.ErrNoRows when the account has no linked student.
func (r *StudentRepository) FindIDByUserID(ctx context.Context, userID string) (string, error) {
	const query = `SELECT id FROM students WHERE user_id = $1 AND deleted = FALSE`
	var id string
	if err := r.db.GetContext(ctx, &id, query, userID); err != nil {
		return "", err
	}
	return id, nil
}

// ExistsByEmail reports whether a non-deleted student with the email exists.
func (r *StudentRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const query = `SELECT 1 FROM students WHERE email = $1 AND deleted = FALSE LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student email: %w", err)
	}
	return true, nil
}
