package logger

import (
	"math"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Production(t *testing.T) {
	l, err := New(false, false, math.MaxInt, math.MaxInt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should not enable debug")
	}
	if !l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("production logger should enable info")
	}
}

func TestNew_VerboseProduction(t *testing.T) {
	l, err := New(false, true, math.MaxInt, math.MaxInt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger should enable debug")
	}
}

func TestNew_DevelopmentWithSampling(t *testing.T) {
	l, err := New(true, false, 100, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("development logger should enable debug")
	}
}
