package store

import (
	"context"
	"database/sql"
	"errors"

	"pickup-order-service/internal/models"
)

func (s *Store) GetPartner(ctx context.Context, id string) (*models.Partner, error) {
	var p models.Partner
	err := s.q.GetContext(ctx, &p, "SELECT * FROM partners WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("partner", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPartners returns active partners offering st in zip, ordered by id
func (s *Store) ListPartners(ctx context.Context, st models.ServiceType, zip string) ([]models.Partner, error) {
	var partners []models.Partner
	err := s.q.SelectContext(ctx, &partners, `
		SELECT * FROM partners
		WHERE active AND $1 = ANY(service_types) AND $2 = ANY(zip_codes)
		ORDER BY id`, st, zip)
	return partners, err
}
