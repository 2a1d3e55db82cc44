// Package matcher selects the certificate subjects that fall under a
// monitored domain.
package matcher

import "strings"

// Covers reports whether subject names domain or one of its subdomains.
// Wildcard subjects are matched on the labels after "*.".
func Covers(subject, domain string) bool {
	subject = strings.ToLower(strings.TrimSuffix(subject, "."))
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return false
	}
	subject = strings.TrimPrefix(subject, "*.")
	return subject == domain || strings.HasSuffix(subject, "."+domain)
}

// Match returns the subjects covered by domain, in input order.
func Match(subjects []string, domain string) []string {
	var matched []string
	for _, s := range subjects {
		if Covers(s, domain) {
			matched = append(matched, s)
		}
	}
	return matched
}
