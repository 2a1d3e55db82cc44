package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andres10976/certharvest/internal/domainname"
	"github.com/andres10976/certharvest/internal/model"
)

type CertificateRepository struct {
	pool *pgxpool.Pool
}

func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

func tableFor(p model.Partition) (string, error) {
	switch p {
	case model.PartitionCerts:
		return "certs", nil
	case model.PartitionPrecerts:
		return "precerts", nil
	default:
		return "", fmt.Errorf("unknown partition %q", p)
	}
}

// ExistsLogID reports whether logID is stored in either partition.
func (r *CertificateRepository) ExistsLogID(ctx context.Context, logID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM certs WHERE log_id = $1)
			OR EXISTS (SELECT 1 FROM precerts WHERE log_id = $1)`,
		logID,
	).Scan(&exists)
	if err != nil {
		return false, classify(err, "")
	}
	return exists, nil
}

// Insert stores cert in partition p. It fails with ErrAlreadyExists for a
// known log ID and ErrDuplicate for a known (issuer, serial) pair.
func (r *CertificateRepository) Insert(ctx context.Context, p model.Partition, cert *model.Certificate) error {
	table, err := tableFor(p)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO `+table+`
			(log_id, serial, issuer, not_before, not_after,
			 sct_or_not_before, sct_exists, pem, subjects, trimmed_subjects)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cert.LogID, cert.Serial, cert.Issuer, cert.NotBefore, cert.NotAfter,
		cert.SCTOrNotBefore, cert.SCTExists, cert.PEM,
		cert.Subjects(), cert.TrimmedSubjects(),
	)
	return classify(err, table)
}

const underDomain = `$1 = ANY(trimmed_subjects)
	AND EXISTS (SELECT 1 FROM unnest(subjects) s WHERE s = $2 OR s LIKE '%.' || $2)`

// ListByDomain returns certificates from partition p naming domain or one
// of its subdomains, newest first, along with the total match count.
func (r *CertificateRepository) ListByDomain(ctx context.Context, p model.Partition, domain string, limit, offset int) ([]model.Certificate, int, error) {
	table, err := tableFor(p)
	if err != nil {
		return nil, 0, err
	}
	parent := domainname.Parent(domain)

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE `+underDomain, parent, domain,
	).Scan(&total); err != nil {
		return nil, 0, classify(err, table)
	}

	certs, err := r.query(ctx, table,
		`SELECT log_id, serial, issuer, not_before, not_after,
			sct_or_not_before, sct_exists, pem, subjects
		FROM `+table+`
		WHERE `+underDomain+`
		ORDER BY sct_or_not_before DESC, log_id DESC
		LIMIT $3 OFFSET $4`,
		parent, domain, limit, offset,
	)
	return certs, total, err
}

// ExportByDomain returns every certificate from partition p naming domain or
// one of its subdomains.
func (r *CertificateRepository) ExportByDomain(ctx context.Context, p model.Partition, domain string) ([]model.Certificate, error) {
	table, err := tableFor(p)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, table,
		`SELECT log_id, serial, issuer, not_before, not_after,
			sct_or_not_before, sct_exists, pem, subjects
		FROM `+table+`
		WHERE `+underDomain+`
		ORDER BY sct_or_not_before DESC, log_id DESC`,
		domainname.Parent(domain), domain,
	)
}

func (r *CertificateRepository) query(ctx context.Context, table, sql string, args ...any) ([]model.Certificate, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, table)
	}
	defer rows.Close()

	var certs []model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, table)
	}
	return certs, nil
}

// Get returns one certificate by log ID from partition p.
func (r *CertificateRepository) Get(ctx context.Context, p model.Partition, logID int64) (*model.Certificate, error) {
	table, err := tableFor(p)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT log_id, serial, issuer, not_before, not_after,
			sct_or_not_before, sct_exists, pem, subjects
		FROM `+table+` WHERE log_id = $1`, logID)
	if err != nil {
		return nil, classify(err, table)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, classify(err, table)
		}
		return nil, ErrNotFound
	}
	c, err := scanCertificate(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCertificate(row pgx.Row) (model.Certificate, error) {
	var (
		c        model.Certificate
		subjects []string
	)
	if err := row.Scan(
		&c.LogID, &c.Serial, &c.Issuer, &c.NotBefore, &c.NotAfter,
		&c.SCTOrNotBefore, &c.SCTExists, &c.PEM, &subjects,
	); err != nil {
		return c, err
	}
	c.NotBefore = c.NotBefore.In(time.UTC)
	c.NotAfter = c.NotAfter.In(time.UTC)
	c.SCTOrNotBefore = c.SCTOrNotBefore.In(time.UTC)
	c.SetSubjects(subjects)
	return c, nil
}
