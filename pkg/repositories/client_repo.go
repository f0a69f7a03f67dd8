package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
)

var ErrClientNotFound = errors.New("client: not found")

type ClientRepository interface {
	FindByEmail(ctx context.Context, q Querier, email string) (models.Client, error)
	// Upsert creates the client or returns the existing one for the same email.
	Upsert(ctx context.Context, q Querier, client models.Client) (models.Client, error)
}

type ClientRepositoryImpl struct{}

func NewClientRepository() ClientRepository {
	return &ClientRepositoryImpl{}
}

func (r ClientRepositoryImpl) FindByEmail(ctx context.Context, q Querier, email string) (models.Client, error) {
	var c models.Client
	err := q.QueryRow(ctx, `SELECT id, email, name, created_at FROM clients WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&c.ID, &c.Email, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Client{}, ErrClientNotFound
	}
	return c, err
}

func (r ClientRepositoryImpl) Upsert(ctx context.Context, q Querier, client models.Client) (models.Client, error) {
	var c models.Client
	err := q.QueryRow(ctx, `
		INSERT INTO clients (email, name) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), clients.name)
		RETURNING id, email, name, created_at`,
		strings.ToLower(strings.TrimSpace(client.Email)),
		client.Name,
	).Scan(&c.ID, &c.Email, &c.Name, &c.CreatedAt)
	return c, err
}
