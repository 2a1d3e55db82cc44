package model

import "time"

// RunState records one ingestion run.
type RunState struct {
	ID               string     `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	DryRun           bool       `json:"dry_run"`
	DomainsProcessed int        `json:"domains_processed"`
	LastDomain       string     `json:"last_domain"`
	Imported         int        `json:"imported"`
	Duplicates       int        `json:"duplicates"`
	ParseFailures    int        `json:"parse_failures"`
	FetchFailures    int        `json:"fetch_failures"`
	Error            string     `json:"error,omitempty"`
	IsRunning        bool       `json:"is_running"`
}
