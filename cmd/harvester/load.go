package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/progress"
	"github.com/andres10976/certharvest/internal/service/ingest"
)

func runLoadCerts(ctx context.Context, domains []string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl, err := a.newController(progress.NewBar(os.Stderr))
	if err != nil {
		return err
	}

	sum, err := ctrl.Run(ctx, ingest.Options{
		Domains: domains,
		SkipTo:  skipTo,
		Verbose: verbose,
		DryRun:  dryRun,
	})
	fmt.Printf("%d certificates were imported for %d domains.\n", sum.Total(), sum.Domains)
	if err != nil {
		a.log.Error("ingest failed", zap.String("run_id", sum.RunID), zap.Error(err))
		return err
	}
	return nil
}
