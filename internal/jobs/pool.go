// Package jobs runs groups of independent tasks with bounded parallelism and
// tracks each group's progress.
package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andres10976/certharvest/internal/metrics"
)

// Task is one unit of work. ID is carried into the task's Result.
type Task struct {
	ID  int64
	Run func(ctx context.Context) ([]byte, error)
}

type Result struct {
	ID   int64
	Body []byte
	Err  error
}

// Handle observes a submitted group.
type Handle interface {
	Total() int
	// Completed never decreases and reaches Total when Done is closed.
	Completed() int
	Done() <-chan struct{}
	// Results returns the results in completion order. It is complete only
	// after Done is closed.
	Results() []Result
}

type Pool struct {
	workers     int
	taskTimeout time.Duration
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// NewPool returns a pool running at most workers tasks of a group at once,
// each bounded by taskTimeout when it is positive.
func NewPool(workers int, taskTimeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Pool {
	if m == nil {
		m = metrics.Discard()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		workers:     max(workers, 1),
		taskTimeout: taskTimeout,
		metrics:     m,
		log:         log,
	}
}

// Submit starts every task and returns immediately.
func (p *Pool) Submit(ctx context.Context, tasks []Task) Handle {
	g := &group{
		total:   len(tasks),
		done:    make(chan struct{}),
		results: make([]Result, 0, len(tasks)),
	}
	p.metrics.TasksSubmitted.Add(float64(len(tasks)))

	go func() {
		defer close(g.done)

		var eg errgroup.Group
		eg.SetLimit(p.workers)
		for _, t := range tasks {
			eg.Go(func() error {
				g.record(p.run(ctx, t))
				return nil
			})
		}
		_ = eg.Wait()
	}()
	return g
}

func (p *Pool) run(ctx context.Context, t Task) (res Result) {
	res.ID = t.ID

	p.metrics.TasksInFlight.Inc()
	defer func() {
		p.metrics.TasksInFlight.Dec()
		if r := recover(); r != nil {
			p.metrics.TasksPanicked.Inc()
			p.log.Error("task panicked",
				zap.Int64("task_id", t.ID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			res = Result{ID: t.ID, Err: fmt.Errorf("task %d panicked: %v", t.ID, r)}
		}
		p.metrics.TasksCompleted.Inc()
		if res.Err != nil {
			p.metrics.TasksFailed.Inc()
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}
	res.Body, res.Err = t.Run(ctx)
	return res
}

type group struct {
	total     int
	completed atomic.Int64
	done      chan struct{}

	mu      sync.Mutex
	results []Result
}

func (g *group) record(r Result) {
	g.mu.Lock()
	g.results = append(g.results, r)
	g.mu.Unlock()
	g.completed.Add(1)
}

func (g *group) Total() int            { return g.total }
func (g *group) Completed() int        { return int(g.completed.Load()) }
func (g *group) Done() <-chan struct{} { return g.done }

func (g *group) Results() []Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Result, len(g.results))
	copy(out, g.results)
	return out
}
