package bloodrequest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodnet/bloodnet/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const reqCols = `id, hospital_id, blood_group, units, urgency, status,
	assignee_type, assigned_donor_id, assigned_org_id,
	fulfilled_at, notes, version_id, created_at, updated_at`

func (r *repoPG) scanRequest(row pgx.Row) (*Request, error) {
	var (
		req          Request
		assigneeType *string
		donorID      *uuid.UUID
		orgID        *uuid.UUID
	)
	err := row.Scan(&req.ID, &req.HospitalID, &req.BloodGroup, &req.Units, &req.Urgency, &req.Status,
		&assigneeType, &donorID, &orgID,
		&req.FulfilledAt, &req.Notes, &req.VersionID, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if assigneeType != nil {
		req.AssignedTo = &Assignment{Type: AssigneeType(*assigneeType), DonorID: donorID, OrganizationID: orgID}
	}
	return &req, nil
}

func (r *repoPG) Create(ctx context.Context, req *Request) error {
	req.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blood_request (id, hospital_id, blood_group, units, urgency, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING version_id, created_at, updated_at`,
		req.ID, req.HospitalID, req.BloodGroup, req.Units, req.Urgency, req.Status, req.Notes,
	).Scan(&req.VersionID, &req.CreatedAt, &req.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+reqCols+` FROM blood_request WHERE id = $1`, id))
}

func (r *repoPG) Apply(ctx context.Context, id uuid.UUID, u Update) error {
	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_request SET
			status = COALESCE($2, status),
			fulfilled_at = COALESCE($3, fulfilled_at),
			notes = COALESCE($4, notes),
			version_id = version_id + 1,
			updated_at = NOW()
		WHERE id = $1`,
		id, status, u.FulfilledAt, u.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// conditional runs a status-guarded UPDATE and tells a missing row apart
// from one whose status did not match.
func (r *repoPG) conditional(ctx context.Context, id uuid.UUID, sql string, args ...interface{}) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, sql, append([]interface{}{id}, args...)...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blood_request WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *repoPG) Assign(ctx context.Context, id uuid.UUID, a Assignment) error {
	ok, err := r.conditional(ctx, id, `
		UPDATE blood_request SET
			status = 'ASSIGNED', assignee_type = $2, assigned_donor_id = $3, assigned_org_id = $4,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'`,
		string(a.Type), a.DonorID, a.OrganizationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOpen
	}
	return nil
}

func (r *repoPG) Cancel(ctx context.Context, id uuid.UUID, notes *string) error {
	ok, err := r.conditional(ctx, id, `
		UPDATE blood_request SET
			status = 'CANCELLED', notes = COALESCE($2, notes),
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ('OPEN', 'ASSIGNED')`,
		notes)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCancelable
	}
	return nil
}

func (r *repoPG) ReopenIfAssigned(ctx context.Context, id, donorID uuid.UUID, notes string) (bool, error) {
	return r.conditional(ctx, id, `
		UPDATE blood_request SET
			status = 'OPEN', assignee_type = NULL, assigned_donor_id = NULL, assigned_org_id = NULL,
			notes = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'ASSIGNED'
			AND (assignee_type IS DISTINCT FROM 'DONOR' OR assigned_donor_id = $3)`,
		notes, donorID)
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Request, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.HospitalID != nil {
		where += fmt.Sprintf(` AND hospital_id = $%d`, idx)
		args = append(args, *f.HospitalID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.BloodGroup != "" {
		where += fmt.Sprintf(` AND blood_group = $%d`, idx)
		args = append(args, f.BloodGroup)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blood_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + reqCols + ` FROM blood_request` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}
