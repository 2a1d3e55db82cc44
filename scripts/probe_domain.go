package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/andres10976/certharvest/internal/service/ctlog"
	"github.com/andres10976/certharvest/internal/service/matcher"
)

// Fetches the crt.sh summary for one domain, downloads a sample of the
// bodies and prints how they would be stored.
func main() {
	domain := flag.String("domain", "cisa.gov", "domain to probe")
	sample := flag.Int("sample", 10, "number of bodies to download")
	since := flag.String("since", "2018-10-01", "drop issuances expiring before this date")
	flag.Parse()

	cutoff, err := time.Parse("2006-01-02", *since)
	if err != nil {
		log.Fatalf("invalid -since: %v", err)
	}

	ctx := context.Background()
	source, err := ctlog.New(ctlog.Config{
		Provider:       ctlog.ProviderCrtSh,
		RateLimit:      1,
		MaxRetries:     3,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
	})
	if err != nil {
		log.Fatalf("create source: %v", err)
	}

	summary, err := source.FetchSummary(ctx, *domain, ctlog.SummaryOptions{IncludeSubdomains: true, IncludeExpired: true})
	if err != nil {
		log.Fatalf("fetch summary: %v", err)
	}

	expired := 0
	for _, iss := range summary {
		if iss.NotAfter.Before(cutoff) {
			expired++
		}
	}
	fmt.Printf("Summary: %d issuances, %d expiring before %s\n", len(summary), expired, *since)
	fmt.Println(strings.Repeat("-", 60))

	var certs, precerts, parseFailures, withSCT int
	checked := 0
	for _, iss := range summary {
		if checked >= *sample {
			break
		}
		if iss.NotAfter.Before(cutoff) {
			continue
		}
		checked++

		body, err := source.FetchBody(ctx, iss)
		if err != nil {
			fmt.Printf("  [%d] fetch failed: %v\n", iss.LogID, err)
			continue
		}
		cert, precert, err := ctlog.ParseCertificate(body)
		if err != nil {
			parseFailures++
			fmt.Printf("  [%d] parse failed: %v\n", iss.LogID, err)
			continue
		}
		if precert {
			precerts++
		} else {
			certs++
		}
		if cert.SCTExists {
			withSCT++
		}
		fmt.Printf("  [%d] precert=%-5v sct=%-5v %s -> %s\n",
			iss.LogID, precert, cert.SCTExists,
			strings.Join(matcher.Match(cert.Subjects(), *domain), ","),
			strings.Join(cert.TrimmedSubjects(), ","))
	}

	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Sampled %d: %d certs, %d precerts, %d with SCT, %d parse failures\n",
		checked, certs, precerts, withSCT, parseFailures)
}
