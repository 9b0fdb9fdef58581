package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"workbridge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- actors ---

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, role domain.Role, now string) error {
	exec := execer(r.DB, tx)
	_, err := exec(ctx, `INSERT OR IGNORE INTO actors(id, role, created_at) VALUES (?,?,?)`, actorID, string(role), now)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id, role, created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Role = domain.Role(role)
	return a, err
}

// --- projects ---

const projectCols = `id,title,COALESCE(description,''),status,budget,final_budget,category,created_by,assigned_to,has_requested_admin_management,admin_management_requested_at,payment_id,created_at,updated_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var finalBudget sql.NullInt64
	var assignedTo, adminAt, paymentID sql.NullString
	var adminRequested int
	err := scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.Budget, &finalBudget, &p.Category,
		&p.CreatedBy, &assignedTo, &adminRequested, &adminAt, &paymentID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if finalBudget.Valid {
		p.FinalBudget = &finalBudget.Int64
	}
	if assignedTo.Valid {
		p.AssignedTo = &assignedTo.String
	}
	p.HasRequestedAdminManagement = adminRequested != 0
	if adminAt.Valid {
		p.AdminManagementRequestedAt = &adminAt.String
	}
	if paymentID.Valid {
		p.PaymentID = &paymentID.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	exec := execer(r.DB, tx)
	_, err := exec(ctx, `INSERT INTO projects(id,title,description,status,budget,final_budget,category,created_by,assigned_to,has_requested_admin_management,admin_management_requested_at,payment_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.Status, p.Budget, nullableInt64Ptr(p.FinalBudget), p.Category,
		p.CreatedBy, nullableStringPtr(p.AssignedTo), boolInt(p.HasRequestedAdminManagement),
		nullableStringPtr(p.AdminManagementRequestedAt), nullableStringPtr(p.PaymentID), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

type ProjectFilters struct {
	Status    string
	Category  string
	CreatedBy string
	Limit     int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectCols + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CommitProject records the single authoritative assignment transition:
// status, final budget and assignee in one conditional write. The status
// precondition stops two concurrent commits for the same project.
func (r Repo) CommitProject(ctx context.Context, tx *sql.Tx, projectID, freelancerID string, finalBudget int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, final_budget=?, assigned_to=?, updated_at=?
WHERE id=? AND status IN (?,?)`,
		domain.ProjectInProgress, finalBudget, freelancerID, now,
		projectID, domain.ProjectUnassigned, domain.ProjectPending)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) SetProjectStatus(ctx context.Context, tx *sql.Tx, projectID, from, to, now string) (bool, error) {
	exec := execer(r.DB, tx)
	res, err := exec(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=? AND status=?`, to, now, projectID, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkAdminManagementRequested flips the one-way flag. The precondition
// enforces false->true exactly once and only while in progress.
func (r Repo) MarkAdminManagementRequested(ctx context.Context, tx *sql.Tx, projectID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET has_requested_admin_management=1, admin_management_requested_at=?, updated_at=?
WHERE id=? AND has_requested_admin_management=0 AND status=?`,
		now, now, projectID, domain.ProjectInProgress)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) SetProjectPayment(ctx context.Context, tx *sql.Tx, projectID, paymentID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET payment_id=?, updated_at=? WHERE id=?`, paymentID, now, projectID)
	return err
}

// DeleteProject removes a project that has no payment attached. Returns
// ErrNotFound if the project does not exist at all.
func (r Repo) DeleteProject(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=? AND payment_id IS NULL
AND NOT EXISTS (SELECT 1 FROM payments WHERE payments.project_id=projects.id)`, id)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := r.GetProject(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// --- applications ---

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	exec := execer(r.DB, tx)
	_, err := exec(ctx, `INSERT INTO applications(id,project_id,applicant_id,proposal_summary,expected_payment,is_chosen_by_client,applied_at)
VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.ApplicantID, nullable(a.ProposalSummary), nullableInt64Ptr(a.ExpectedPayment),
		boolInt(a.IsChosenByClient), a.AppliedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, projectID, applicantID string) (domain.Application, error) {
	var a domain.Application
	var summary sql.NullString
	var expected sql.NullInt64
	var chosen int
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,applicant_id,COALESCE(proposal_summary,''),expected_payment,is_chosen_by_client,applied_at
FROM applications WHERE project_id=? AND applicant_id=?`, projectID, applicantID).
		Scan(&a.ID, &a.ProjectID, &a.ApplicantID, &summary, &expected, &chosen, &a.AppliedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ProposalSummary = summary.String
	if expected.Valid {
		a.ExpectedPayment = &expected.Int64
	}
	a.IsChosenByClient = chosen != 0
	return a, nil
}

func (r Repo) ListApplications(ctx context.Context, projectID string) ([]domain.Application, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,applicant_id,COALESCE(proposal_summary,''),expected_payment,is_chosen_by_client,applied_at
FROM applications WHERE project_id=? ORDER BY applied_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		var a domain.Application
		var summary sql.NullString
		var expected sql.NullInt64
		var chosen int
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ApplicantID, &summary, &expected, &chosen, &a.AppliedAt); err != nil {
			return nil, err
		}
		a.ProposalSummary = summary.String
		if expected.Valid {
			a.ExpectedPayment = &expected.Int64
		}
		a.IsChosenByClient = chosen != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ChooseApplication(ctx context.Context, tx *sql.Tx, projectID, applicantID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET is_chosen_by_client=1 WHERE project_id=? AND applicant_id=?`,
		projectID, applicantID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,COALESCE(payload_json,'') FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,COALESCE(payload_json,'') FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func execer(db *sql.DB, tx *sql.Tx) func(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext
	}
	return db.ExecContext
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
