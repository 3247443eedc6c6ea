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

// AdmissionRepository handles persistence of admissions and their history.
type AdmissionRepository struct {
	db *sqlx.DB
}

// NewAdmissionRepository constructs the repository.
func NewAdmissionRepository(db *sqlx.DB) *AdmissionRepository {
	return &AdmissionRepository{db: db}
}

// List returns admissions filtered by the provided criteria.
func (r *AdmissionRepository) List(ctx context.Context, filter models.AdmissionFilter) ([]models.AdmissionDetail, int, error) {
	base := `FROM admissions a
LEFT JOIN students s ON s.id = a.student_id
LEFT JOIN courses c ON c.id = a.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("a.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "a.created_at",
		"student_name": "s.full_name",
		"status":       "a.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "a.created_at"
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

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.course_id, a.status, a.created_at, a.updated_at,
        s.full_name AS student_name, s.registration_number AS student_reg_no, c.name AS course_name, c.code AS course_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var admissions []models.AdmissionDetail
	if err := r.db.SelectContext(ctx, &admissions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list admissions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count admissions: %w", err)
	}
	return admissions, total, nil
}

// ListForExport returns every admission matching the filters, without
// pagination. Used by report generation.
func (r *AdmissionRepository) ListForExport(ctx context.Context, courseID string, status models.AdmissionStatus) ([]models.AdmissionDetail, error) {
	query := `SELECT a.id, a.student_id, a.course_id, a.status, a.created_at, a.updated_at,
        s.full_name AS student_name, s.registration_number AS student_reg_no, c.name AS course_name, c.code AS course_code
        FROM admissions a
        LEFT JOIN students s ON s.id = a.student_id
        LEFT JOIN courses c ON c.id = a.course_id`
	var conditions []string
	var args []interface{}
	if courseID != "" {
		conditions = append(conditions, fmt.Sprintf("a.course_id = $%d", len(args)+1))
		args = append(args, courseID)
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, status)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY a.created_at ASC"

	var admissions []models.AdmissionDetail
	if err := r.db.SelectContext(ctx, &admissions, query, args...); err != nil {
		return nil, fmt.Errorf("list admissions for export: %w", err)
	}
	return admissions, nil
}

// FindByID returns an admission by its ID.
func (r *AdmissionRepository) FindByID(ctx context.Context, id string) (*models.Admission, error) {
	const query = `SELECT id, student_id, course_id, status, created_at, updated_at FROM admissions WHERE id = $1`
	var admission models.Admission
	if err := r.db.GetContext(ctx, &admission, query, id); err != nil {
		return nil, err
	}
	return &admission, nil
}

// ExistsForStudentCourse reports whether the student already holds an admission for the course.
func (r *AdmissionRepository) ExistsForStudentCourse(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM admissions WHERE student_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check admission pair: %w", err)
	}
	return true, nil
}

// Create persists a new admission record.
func (r *AdmissionRepository) Create(ctx context.Context, admission *models.Admission) error {
	if admission.ID == "" {
		admission.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if admission.CreatedAt.IsZero() {
		admission.CreatedAt = now
	}
	admission.UpdatedAt = now
	if admission.Status == "" {
		admission.Status = models.AdmissionStatusInitiated
	}
	const query = `INSERT INTO admissions (id, student_id, course_id, status, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, admission); err != nil {
		return fmt.Errorf("create admission: %w", err)
	}
	return nil
}

// UpdateStatusWithHistory persists the status change and its history row in
// one transaction. The update is guarded by the expected current status so
// concurrent transitions cannot both apply.
func (r *AdmissionRepository) UpdateStatusWithHistory(ctx context.Context, admissionID string, from, to models.AdmissionStatus, history *models.AdmissionHistory) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE admissions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		admissionID, from, to, time.Now().UTC())
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update admission status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}
	const historyQuery = `INSERT INTO admission_history (id, admission_id, from_status, to_status, changed_by, notes, created_at)
        VALUES (:id, :admission_id, :from_status, :to_status, :changed_by, :notes, :created_at)`
	if _, err := tx.NamedExecContext(ctx, historyQuery, history); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create admission history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admission transition: %w", err)
	}
	return nil
}

// ListHistory returns the status-change trail for one admission, oldest first.
func (r *AdmissionRepository) ListHistory(ctx context.Context, admissionID string) ([]models.AdmissionHistory, error) {
	const query = `SELECT id, admission_id, from_status, to_status, changed_by, notes, created_at
        FROM admission_history WHERE admission_id = $1 ORDER BY created_at ASC`
	var history []models.AdmissionHistory
	if err := r.db.SelectContext(ctx, &history, query, admissionID); err != nil {
		return nil, fmt.Errorf("list admission history: %w", err)
	}
	return history, nil
}
