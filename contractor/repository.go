package contractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested contractor profile does not exist.
var ErrNotFound = errors.New("contractor: not found")

const profileColumns = `contractor_id, status::text, kyc_deadline, approved_by, rating, created_at, updated_at`

// Repository provides access to contractor profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a contractor profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM contractor_profiles WHERE contractor_id = $1`

	profile, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("contractor: query by id: %w", err)
	}

	return profile, nil
}

// SetStatus writes the new standing along with its approval metadata. The KYC
// deadline is cleared unless the caller supplies one.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status, approvedBy string, kycDeadline *time.Time) (Profile, error) {
	const query = `
		UPDATE contractor_profiles
		SET status = $2, approved_by = $3, kyc_deadline = $4, updated_at = now()
		WHERE contractor_id = $1
		RETURNING ` + profileColumns

	var by *string
	if approvedBy != "" {
		by = &approvedBy
	}
	profile, err := scanProfile(r.pool.QueryRow(ctx, query, id, status, by, kycDeadline))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("contractor: set status: %w", err)
	}

	return profile, nil
}

// ListPendingKYC fetches profiles whose KYC deadline has elapsed.
func (r *Repository) ListPendingKYC(ctx context.Context, deadline time.Time) ([]Profile, error) {
	const query = `
		SELECT ` + profileColumns + `
		FROM contractor_profiles
		WHERE status = 'active' AND kyc_deadline IS NOT NULL AND kyc_deadline <= $1
		ORDER BY kyc_deadline ASC
	`

	rows, err := r.pool.Query(ctx, query, deadline)
	if err != nil {
		return nil, fmt.Errorf("contractor: list pending kyc: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, 16)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("contractor: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contractor: iterate profiles: %w", err)
	}

	return profiles, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ContractorID,
		&p.Status,
		&p.KYCDeadline,
		&p.ApprovedBy,
		&p.Rating,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}
