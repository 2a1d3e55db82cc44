package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andres10976/certharvest/internal/model"
)

type DomainRepository struct {
	pool *pgxpool.Pool
}

func NewDomainRepository(pool *pgxpool.Pool) *DomainRepository {
	return &DomainRepository{pool: pool}
}

// List returns every monitored domain ordered by name.
func (r *DomainRepository) List(ctx context.Context) ([]model.Domain, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT domain, agency_id, agency_name, cyhy_stakeholder, scan_date
		FROM domains ORDER BY domain`)
	if err != nil {
		return nil, classify(err, "domains")
	}
	defer rows.Close()

	var domains []model.Domain
	for rows.Next() {
		var (
			d                    model.Domain
			agencyID, agencyName *string
		)
		if err := rows.Scan(&d.Domain, &agencyID, &agencyName, &d.CyhyStakeholder, &d.ScanDate); err != nil {
			return nil, err
		}
		if agencyID != nil || agencyName != nil {
			d.Agency = &model.Agency{}
			if agencyID != nil {
				d.Agency.ID = *agencyID
			}
			if agencyName != nil {
				d.Agency.Name = *agencyName
			}
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "domains")
	}
	return domains, nil
}

// Names returns the monitored domain names ordered by name.
func (r *DomainRepository) Names(ctx context.Context) ([]string, error) {
	domains, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(domains))
	for i, d := range domains {
		names[i] = d.Domain
	}
	return names, nil
}
