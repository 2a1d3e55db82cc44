package logger

import (
	"math"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Levels in use:
//
//	debug = per-issuance decisions (verbose runs only).
//	info  = per-domain and per-run summaries.
//	warn  = a problem that only affects one certificate or domain.
//	error = a problem that ends a run or a request.
//
// verbose enables debug output in production mode as well. Sampling is
// disabled when both sampling values are math.MaxInt.
func New(isDevelopment, verbose bool, samplingInitial, samplingThereafter int) (*zap.Logger, error) {
	var cfg zap.Config
	if isDevelopment {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableCaller = true
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if samplingInitial == math.MaxInt && samplingThereafter == math.MaxInt {
		cfg.Sampling = nil
	} else {
		cfg.Sampling = &zap.SamplingConfig{
			Initial:    samplingInitial,
			Thereafter: samplingThereafter,
		}
	}
	cfg.EncoderConfig.TimeKey = "@timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	return cfg.Build()
}
