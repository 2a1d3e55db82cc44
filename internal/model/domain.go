package model

import "time"

type Agency struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Domain is a monitored domain. Records are maintained outside this service.
type Domain struct {
	Domain          string     `json:"domain"`
	Agency          *Agency    `json:"agency,omitempty"`
	CyhyStakeholder bool       `json:"cyhy_stakeholder"`
	ScanDate        *time.Time `json:"scan_date,omitempty"`
}
