package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/database"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/repositories"
	"go.uber.org/zap"
)

// PostgresClaimStore implements ClaimStore and ManualTaskCreator over the repositories.
type PostgresClaimStore struct {
	logger  *zap.Logger
	db      *database.DB
	claims  repositories.ClaimRepository
	clients repositories.ClientRepository
	tasks   repositories.ManualTaskRepository
}

func NewPostgresClaimStore(logger *zap.Logger, db *database.DB) *PostgresClaimStore {
	return &PostgresClaimStore{
		logger:  logger,
		db:      db,
		claims:  repositories.NewClaimRepository(),
		clients: repositories.NewClientRepository(),
		tasks:   repositories.NewManualTaskRepository(),
	}
}

// CreateClaim maps the open-claim index violation to pkg.ErrDuplicateClaim.
func (s *PostgresClaimStore) CreateClaim(ctx context.Context, claim models.Claim) error {
	if err := s.claims.Create(ctx, s.db, claim); err != nil {
		return pkg.HandleSQLError(claim.Reference, s.logger, err)
	}
	return nil
}

func (s *PostgresClaimStore) UpdateClaim(ctx context.Context, id uuid.UUID, update models.ClaimUpdate) error {
	err := s.claims.Update(ctx, s.db, id, update)
	if errors.Is(err, repositories.ErrClaimNotFound) {
		return err
	}
	if err != nil {
		return pkg.HandleSQLError(id.String(), s.logger, err)
	}
	return nil
}

func (s *PostgresClaimStore) OpenClaim(ctx context.Context, orderID string) (*models.Claim, error) {
	claim, err := s.claims.FindOpenByOrderID(ctx, s.db, orderID)
	if errors.Is(err, repositories.ErrClaimNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkg.HandleSQLError(orderID, s.logger, err)
	}
	return &claim, nil
}

func (s *PostgresClaimStore) GetClient(ctx context.Context, email string) (*models.Client, error) {
	client, err := s.clients.FindByEmail(ctx, s.db, email)
	if errors.Is(err, repositories.ErrClientNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *PostgresClaimStore) CreateManualTask(ctx context.Context, task models.ManualTask) error {
	if err := s.tasks.Create(ctx, s.db, task); err != nil {
		return pkg.HandleSQLError(task.OrderID, s.logger, err)
	}
	return nil
}
