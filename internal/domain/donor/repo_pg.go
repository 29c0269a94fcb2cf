package donor

import (
	"context"
	"errors"

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

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const donorCols = `id, first_name, last_name, blood_group, birth_date, phone, email, city,
	last_donation_date, next_eligible_date, eligible, version_id, created_at, updated_at`

func (r *repoPG) scanDonor(row pgx.Row) (*Donor, error) {
	var d Donor
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.BloodGroup, &d.BirthDate, &d.Phone, &d.Email, &d.City,
		&d.LastDonationDate, &d.NextEligibleDate, &d.Eligible, &d.VersionID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Donor) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO donor (id, first_name, last_name, blood_group, birth_date, phone, email, city,
			last_donation_date, next_eligible_date, eligible)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING version_id, created_at, updated_at`,
		d.ID, d.FirstName, d.LastName, d.BloodGroup, d.BirthDate, d.Phone, d.Email, d.City,
		d.LastDonationDate, d.NextEligibleDate, d.Eligible,
	).Scan(&d.VersionID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Donor, error) {
	return r.scanDonor(r.conn(ctx).QueryRow(ctx, `SELECT `+donorCols+` FROM donor WHERE id = $1`, id))
}

func (r *repoPG) SetEligibility(ctx context.Context, id uuid.UUID, e Eligibility) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE donor SET last_donation_date = $2, next_eligible_date = $3, eligible = $4,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1`,
		id, e.LastDonationDate, e.NextEligibleDate, e.Eligible)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, bloodGroup string, limit, offset int) ([]*Donor, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM donor WHERE ($1 = '' OR blood_group = $1)`, bloodGroup).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+donorCols+` FROM donor WHERE ($1 = '' OR blood_group = $1)
		ORDER BY last_name, first_name LIMIT $2 OFFSET $3`, bloodGroup, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Donor
	for rows.Next() {
		d, err := r.scanDonor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
