// Package progress reports the advance of long-running batches.
package progress

import (
	"io"

	"gopkg.in/cheggaaa/pb.v1"
)

// Reporter starts a Tracker for a batch of total items.
type Reporter interface {
	Begin(label string, total int) Tracker
}

type Tracker interface {
	// Set records the number of finished items. Values never decrease.
	Set(n int)
	Finish()
}

// Nop discards progress.
type Nop struct{}

func (Nop) Begin(string, int) Tracker { return nopTracker{} }

type nopTracker struct{}

func (nopTracker) Set(int) {}
func (nopTracker) Finish() {}

// Bar draws a terminal progress bar per batch.
type Bar struct {
	out io.Writer
}

func NewBar(out io.Writer) *Bar {
	return &Bar{out: out}
}

func (b *Bar) Begin(label string, total int) Tracker {
	bar := pb.New(total).Prefix(label + " ")
	bar.Output = b.out
	bar.ShowSpeed = true
	bar.SetUnits(pb.U_NO)
	bar.Start()
	return &barTracker{bar: bar}
}

type barTracker struct {
	bar  *pb.ProgressBar
	last int
}

func (t *barTracker) Set(n int) {
	if n < t.last {
		return
	}
	t.last = n
	t.bar.Set(n)
}

func (t *barTracker) Finish() {
	t.bar.Finish()
}
