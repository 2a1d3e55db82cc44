package ctlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/andres10976/certharvest/internal/model"
)

const (
	defaultCertSpotterURL = "https://api.certspotter.com/v1/issuances"

	// maxCertSpotterPages bounds pagination if the provider stops advancing.
	maxCertSpotterPages = 10000
)

type certSpotterIssuance struct {
	ID       string    `json:"id"`
	DNSNames []string  `json:"dns_names"`
	NotAfter time.Time `json:"not_after"`
	CertDER  certDER   `json:"cert_der"`
}

// certDER accepts the body either as a base64 string or as an object with a
// base64 "data" member.
type certDER []byte

func (d *certDER) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var obj struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return fmt.Errorf("cert_der: %w", err)
		}
		s = obj.Data
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("cert_der: %w", err)
	}
	*d = raw
	return nil
}

// certSpotter queries the SSLMate Cert Spotter issuances API, which returns
// certificate bodies inline so FetchBody needs no request.
type certSpotter struct {
	fetch   *fetcher
	baseURL string
	now     func() time.Time
}

func newCertSpotter(f *fetcher, baseURL string) *certSpotter {
	return &certSpotter{fetch: f, baseURL: baseURL, now: time.Now}
}

func (c *certSpotter) FetchSummary(ctx context.Context, domain string, opts SummaryOptions) ([]model.Issuance, error) {
	domain, err := validateDomain(domain)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var out []model.Issuance
	after := ""
	for range maxCertSpotterPages {
		page, err := c.page(ctx, domain, opts.IncludeSubdomains, after)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			id, err := strconv.ParseInt(p.ID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: issuance id %q: %w", ErrTransientFetch, p.ID, err)
			}
			if !opts.IncludeExpired && p.NotAfter.Before(now) {
				continue
			}
			out = append(out, model.Issuance{
				LogID:    id,
				DNSNames: p.DNSNames,
				NotAfter: p.NotAfter.UTC(),
				CertDER:  p.CertDER,
			})
		}
		last := page[len(page)-1].ID
		if last == after {
			break
		}
		after = last
	}
	return out, nil
}

func (c *certSpotter) FetchBody(_ context.Context, iss model.Issuance) ([]byte, error) {
	if len(iss.CertDER) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoBody, iss.LogID)
	}
	return iss.CertDER, nil
}

func (c *certSpotter) page(ctx context.Context, domain string, subdomains bool, after string) ([]certSpotterIssuance, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse Cert Spotter URL: %w", err)
	}
	v := url.Values{
		"domain":             {domain},
		"include_subdomains": {strconv.FormatBool(subdomains)},
		"expand":             {"dns_names", "cert_der"},
	}
	if after != "" {
		v.Set("after", after)
	}
	u.RawQuery = v.Encode()

	var page []certSpotterIssuance
	decode := func(b []byte) error {
		page = nil
		return json.Unmarshal(b, &page)
	}
	if _, err := c.fetch.get(ctx, u.String(), decode); err != nil {
		return nil, err
	}
	return page, nil
}
