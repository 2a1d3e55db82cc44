package ctlog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/andres10976/certharvest/internal/model"
)

const defaultCrtShURL = "https://crt.sh/"

// crt.sh reports timestamps in UTC without a zone designator.
var crtshTimeLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999", time.RFC3339}

type crtshEntry struct {
	ID        int64  `json:"id"`
	MinCertID int64  `json:"min_cert_id"`
	NameValue string `json:"name_value"`
	NotAfter  string `json:"not_after"`
}

// crtsh queries crt.sh. In dnsName mode it searches the dNSName index, which
// cannot match an apex and its subdomains in one query, so the apex and the
// wildcard are queried separately and merged.
type crtsh struct {
	fetch   *fetcher
	baseURL string
	dnsName bool
}

func newCrtSh(f *fetcher, baseURL string, dnsName bool) *crtsh {
	return &crtsh{fetch: f, baseURL: baseURL, dnsName: dnsName}
}

func (c *crtsh) FetchSummary(ctx context.Context, domain string, opts SummaryOptions) ([]model.Issuance, error) {
	domain, err := validateDomain(domain)
	if err != nil {
		return nil, err
	}

	if !c.dnsName {
		q := domain
		if opts.IncludeSubdomains {
			q = "%." + domain
		}
		return c.query(ctx, "q", q, opts)
	}

	out, err := c.query(ctx, "dNSName", domain, opts)
	if err != nil {
		return nil, err
	}
	if !opts.IncludeSubdomains {
		return out, nil
	}
	wild, err := c.query(ctx, "dNSName", "%."+domain, opts)
	if err != nil {
		return nil, err
	}
	return mergeIssuances(out, wild), nil
}

func (c *crtsh) FetchBody(ctx context.Context, iss model.Issuance) ([]byte, error) {
	if len(iss.CertDER) > 0 {
		return iss.CertDER, nil
	}
	u, err := c.url(url.Values{"d": {strconv.FormatInt(iss.LogID, 10)}})
	if err != nil {
		return nil, err
	}
	return c.fetch.get(ctx, u, nil)
}

func (c *crtsh) query(ctx context.Context, param, value string, opts SummaryOptions) ([]model.Issuance, error) {
	v := url.Values{param: {value}, "output": {"json"}}
	if !opts.IncludeExpired {
		v.Set("exclude", "expired")
	}
	u, err := c.url(v)
	if err != nil {
		return nil, err
	}

	var entries []crtshEntry
	decode := func(b []byte) error {
		entries = nil
		return json.Unmarshal(b, &entries)
	}
	if _, err := c.fetch.get(ctx, u, decode); err != nil {
		return nil, err
	}

	out := make([]model.Issuance, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == 0 {
			id = e.MinCertID
		}
		notAfter, err := parseCrtShTime(e.NotAfter)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrTransientFetch, id, err)
		}
		out = append(out, model.Issuance{
			LogID:    id,
			DNSNames: splitNames(e.NameValue),
			NotAfter: notAfter,
		})
	}
	return out, nil
}

func (c *crtsh) url(v url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse crt.sh URL: %w", err)
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func parseCrtShTime(s string) (time.Time, error) {
	for _, layout := range crtshTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func splitNames(v string) []string {
	var names []string
	for _, n := range strings.Split(v, "\n") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// mergeIssuances returns the union of a and b by log ID, keeping the first
// occurrence and the order of appearance.
func mergeIssuances(a, b []model.Issuance) []model.Issuance {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]model.Issuance, 0, len(a)+len(b))
	for _, list := range [][]model.Issuance{a, b} {
		for _, iss := range list {
			if _, ok := seen[iss.LogID]; ok {
				continue
			}
			seen[iss.LogID] = struct{}{}
			out = append(out, iss)
		}
	}
	return out
}
