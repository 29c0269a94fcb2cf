package donation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

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

// repoPG stores each donation as a JSONB document. The columns next to it
// only exist for filtering and for the version check.
type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const donationCols = `id, document, version_id, created_at, updated_at`

func scanDonation(row pgx.Row) (*Donation, error) {
	var (
		d                    Donation
		doc                  []byte
		id                   uuid.UUID
		ver                  int
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &doc, &ver, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("decode donation %s: %w", id, err)
	}
	d.ID, d.VersionID, d.CreatedAt, d.UpdatedAt = id, ver, createdAt, updatedAt
	return &d, nil
}

func (r *repoPG) Create(ctx context.Context, d *Donation) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode donation: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO donation (id, organization_id, appointment_id, stage, status, document, version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.OrganizationID, d.AppointmentID, d.Stage, d.Status, doc, d.VersionID,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Donation, error) {
	return scanDonation(r.conn(ctx).QueryRow(ctx, `SELECT `+donationCols+` FROM donation WHERE id = $1`, id))
}

// Save writes d only if the stored version still equals d.VersionID.
func (r *repoPG) Save(ctx context.Context, d *Donation) error {
	next := d.Clone()
	next.VersionID = d.VersionID + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode donation: %w", err)
	}

	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE donation SET appointment_id=$3, stage=$4, status=$5, document=$6,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		d.ID, d.VersionID, d.AppointmentID, d.Stage, d.Status, doc,
	).Scan(&d.VersionID, &d.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update donation: %w", err)
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM donation WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check donation: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Donation, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.OrganizationID != nil {
		add("organization_id = $%d", *f.OrganizationID)
	}
	if f.AppointmentID != nil {
		add("appointment_id = $%d", *f.AppointmentID)
	}
	if f.Stage != "" {
		add("stage = $%d", string(f.Stage))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM donation`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM donation%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		donationCols, cond, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
