package model

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/andres10976/certharvest/internal/domainname"
)

// Partition names the table a certificate is stored in. A record's
// partition is fixed when it is first written.
type Partition string

const (
	PartitionCerts    Partition = "certs"
	PartitionPrecerts Partition = "precerts"
)

// Certificate is the stored form of a parsed certificate or precertificate.
// Subjects and trimmed subjects are only reachable through SetSubjects and
// the read accessors so the two can never disagree.
type Certificate struct {
	LogID          int64     `json:"log_id"`
	Serial         string    `json:"serial"`
	Issuer         string    `json:"issuer"`
	NotBefore      time.Time `json:"not_before"`
	NotAfter       time.Time `json:"not_after"`
	SCTOrNotBefore time.Time `json:"sct_or_not_before"`
	SCTExists      bool      `json:"sct_exists"`
	PEM            string    `json:"pem"`

	subjects        []string
	trimmedSubjects []string
}

// SetSubjects lowercases and dedups names, then recomputes the trimmed
// subjects from the result.
func (c *Certificate) SetSubjects(names []string) {
	seen := make(map[string]struct{}, len(names))
	subjects := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(n)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		subjects = append(subjects, n)
	}
	slices.Sort(subjects)
	c.subjects = subjects
	c.trimmedSubjects = domainname.Trim(subjects)
}

// Subjects returns a copy of the certificate's DNS names.
func (c *Certificate) Subjects() []string {
	return slices.Clone(c.subjects)
}

// TrimmedSubjects returns a copy of the parent domains of Subjects.
func (c *Certificate) TrimmedSubjects() []string {
	return slices.Clone(c.trimmedSubjects)
}

// certificateJSON mirrors Certificate with the derived fields exported.
type certificateJSON struct {
	LogID           int64     `json:"log_id"`
	Serial          string    `json:"serial"`
	Issuer          string    `json:"issuer"`
	NotBefore       time.Time `json:"not_before"`
	NotAfter        time.Time `json:"not_after"`
	SCTOrNotBefore  time.Time `json:"sct_or_not_before"`
	SCTExists       bool      `json:"sct_exists"`
	PEM             string    `json:"pem"`
	Subjects        []string  `json:"subjects"`
	TrimmedSubjects []string  `json:"trimmed_subjects"`
}

// MarshalJSON includes the derived subject fields, which are unexported.
func (c Certificate) MarshalJSON() ([]byte, error) {
	subjects, trimmed := c.Subjects(), c.TrimmedSubjects()
	if subjects == nil {
		subjects = []string{}
	}
	if trimmed == nil {
		trimmed = []string{}
	}
	return json.Marshal(certificateJSON{
		LogID:           c.LogID,
		Serial:          c.Serial,
		Issuer:          c.Issuer,
		NotBefore:       c.NotBefore,
		NotAfter:        c.NotAfter,
		SCTOrNotBefore:  c.SCTOrNotBefore,
		SCTExists:       c.SCTExists,
		PEM:             c.PEM,
		Subjects:        subjects,
		TrimmedSubjects: trimmed,
	})
}
