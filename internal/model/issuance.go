package model

import "time"

// Issuance is one entry of a provider's per-domain summary. It is never
// persisted; LogID is the provider's identifier for the logged certificate.
type Issuance struct {
	LogID    int64
	DNSNames []string
	NotAfter time.Time

	// CertDER is set by providers that return the body inline.
	CertDER []byte
}
