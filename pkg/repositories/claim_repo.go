package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
)

// Querier is satisfied by both *database.DB and pgx.Tx, so repository calls can run inside or
// outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var ErrClaimNotFound = errors.New("claim: not found")

type ClaimRepository interface {
	// Create inserts a claim. A second open claim for the same order violates claims_open_order_uidx.
	Create(ctx context.Context, q Querier, claim models.Claim) error
	// Update applies the non-nil fields of u.
	Update(ctx context.Context, q Querier, id uuid.UUID, u models.ClaimUpdate) error
	FindByID(ctx context.Context, q Querier, id uuid.UUID) (models.Claim, error)
	FindOpenByOrderID(ctx context.Context, q Querier, orderID string) (models.Claim, error)
}

type ClaimRepositoryImpl struct{}

func NewClaimRepository() ClaimRepository {
	return &ClaimRepositoryImpl{}
}

const claimColumns = `id, reference, client_id, order_id, carrier, dispute_type, amount_requested, tracking_number,
	status, submission_method, automation_status, automation_error, pod_fetch_status, pod_url, pod_fetch_error,
	carrier_reference, created_at, updated_at, submitted_at`

func (r ClaimRepositoryImpl) Create(ctx context.Context, q Querier, c models.Claim) error {
	_, err := q.Exec(ctx, `
		INSERT INTO claims (id, reference, client_id, order_id, carrier, dispute_type, amount_requested,
		                    tracking_number, status, submission_method, automation_status, pod_fetch_status,
		                    created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		c.ID,
		c.Reference,
		c.ClientID,
		c.OrderID,
		c.Carrier,
		c.DisputeType,
		c.AmountRequested,
		c.TrackingNumber,
		string(c.Status),
		string(c.SubmissionMethod),
		string(c.AutomationStatus),
		string(c.PODFetchStatus),
		c.CreatedAt,
	)
	return err
}

func (r ClaimRepositoryImpl) Update(ctx context.Context, q Querier, id uuid.UUID, u models.ClaimUpdate) error {
	tag, err := q.Exec(ctx, `
		UPDATE claims SET
			status            = COALESCE($2::text, status),
			submission_method = COALESCE($3::text, submission_method),
			automation_status = COALESCE($4::text, automation_status),
			automation_error  = COALESCE($5::text, automation_error),
			pod_fetch_status  = COALESCE($6::text, pod_fetch_status),
			pod_url           = COALESCE($7::text, pod_url),
			pod_fetch_error   = COALESCE($8::text, pod_fetch_error),
			carrier_reference = COALESCE($9::text, carrier_reference),
			submitted_at      = COALESCE($10::timestamptz, submitted_at),
			updated_at        = $11
		WHERE id = $1`,
		id,
		text(u.Status),
		text(u.SubmissionMethod),
		text(u.AutomationStatus),
		u.AutomationError,
		text(u.PODFetchStatus),
		u.PODURL,
		u.PODFetchError,
		u.CarrierReference,
		u.SubmittedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

func (r ClaimRepositoryImpl) FindByID(ctx context.Context, q Querier, id uuid.UUID) (models.Claim, error) {
	return scanClaim(q.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
}

func (r ClaimRepositoryImpl) FindOpenByOrderID(ctx context.Context, q Querier, orderID string) (models.Claim, error) {
	return scanClaim(q.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims
		WHERE order_id = $1 AND status NOT IN ('rejected', 'paid')`, orderID))
}

func scanClaim(row pgx.Row) (models.Claim, error) {
	var c models.Claim
	var status, method, automation, podStatus string
	err := row.Scan(
		&c.ID,
		&c.Reference,
		&c.ClientID,
		&c.OrderID,
		&c.Carrier,
		&c.DisputeType,
		&c.AmountRequested,
		&c.TrackingNumber,
		&status,
		&method,
		&automation,
		&c.AutomationError,
		&podStatus,
		&c.PODURL,
		&c.PODFetchError,
		&c.CarrierReference,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.SubmittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Claim{}, ErrClaimNotFound
	}
	if err != nil {
		return models.Claim{}, err
	}
	c.Status = models.ClaimStatus(status)
	c.SubmissionMethod = models.SubmissionMethod(method)
	c.AutomationStatus = models.AutomationStatus(automation)
	c.PODFetchStatus = models.PODFetchStatus(podStatus)
	return c, nil
}

func text[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
