package store

import (
	"context"
	"database/sql"
	"errors"

	"pickup-order-service/internal/models"
)

// GetActivePolicy returns the policy in force for a service type right now
func (s *Store) GetActivePolicy(ctx context.Context, st models.ServiceType) (*models.CancellationPolicy, error) {
	var p models.CancellationPolicy
	err := s.q.GetContext(ctx, &p,
		"SELECT * FROM cancellation_policies WHERE service_type = $1 AND active", st)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("active cancellation policy", string(st))
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListActivePolicies(ctx context.Context) ([]models.CancellationPolicy, error) {
	var policies []models.CancellationPolicy
	err := s.q.SelectContext(ctx, &policies,
		"SELECT * FROM cancellation_policies WHERE active ORDER BY service_type")
	return policies, err
}

// MarkPolicyReferenced freezes a policy version once a fee was computed from it
func (s *Store) MarkPolicyReferenced(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE cancellation_policies SET referenced = TRUE WHERE id = $1 AND NOT referenced", id)
	return err
}
