package repositories

import (
	"context"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
)

type ManualTaskRepository interface {
	Create(ctx context.Context, q Querier, task models.ManualTask) error
	// ListOpen pages unresolved tasks, oldest first. pageNumber is 1-based.
	ListOpen(ctx context.Context, q Querier, pageNumber, size int) ([]models.ManualTask, error)
}

type ManualTaskRepositoryImpl struct{}

func NewManualTaskRepository() ManualTaskRepository {
	return &ManualTaskRepositoryImpl{}
}

func (r ManualTaskRepositoryImpl) Create(ctx context.Context, q Querier, t models.ManualTask) error {
	_, err := q.Exec(ctx, `
		INSERT INTO manual_tasks (id, claim_id, order_id, carrier, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
		t.ID,
		t.ClaimID,
		t.OrderID,
		t.Carrier,
		t.Reason,
		t.CreatedAt,
	)
	return err
}

func (r ManualTaskRepositoryImpl) ListOpen(ctx context.Context, q Querier, pageNumber, size int) ([]models.ManualTask, error) {
	if pageNumber < 1 {
		pageNumber = 1
	}
	offset := (pageNumber - 1) * size
	rows, err := q.Query(ctx, `
		SELECT id, claim_id, order_id, carrier, reason, created_at
		FROM manual_tasks
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1 OFFSET $2`, size, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.ManualTask
	for rows.Next() {
		var t models.ManualTask
		if err = rows.Scan(&t.ID, &t.ClaimID, &t.OrderID, &t.Carrier, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
