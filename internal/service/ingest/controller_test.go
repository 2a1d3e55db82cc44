package ingest

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/domainname"
	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/repository"
	"github.com/andres10976/certharvest/internal/service/ctlog"
	"github.com/andres10976/certharvest/internal/service/novelty"
	"github.com/andres10976/certharvest/internal/service/orchestrator"
)

// --- mocks ---

type mockFilter struct {
	mu       sync.Mutex
	policies map[string]novelty.Policy
	newFn    func(ctx context.Context, domain string, p novelty.Policy) (iter.Seq2[model.Issuance, error], error)
}

func (m *mockFilter) NewIssuances(ctx context.Context, domain string, p novelty.Policy) (iter.Seq2[model.Issuance, error], error) {
	m.mu.Lock()
	if m.policies == nil {
		m.policies = map[string]novelty.Policy{}
	}
	m.policies[domain] = p
	m.mu.Unlock()
	if m.newFn != nil {
		return m.newFn(ctx, domain, p)
	}
	return emptySeq, nil
}

func emptySeq(func(model.Issuance, error) bool) {}

type mockFetcher struct {
	mu      sync.Mutex
	visited []string
	fetchFn func(ctx context.Context, domain string, dryRun bool) (orchestrator.Result, error)
}

func (m *mockFetcher) FetchDomain(ctx context.Context, domain string, _ iter.Seq2[model.Issuance, error], dryRun bool) (orchestrator.Result, error) {
	m.mu.Lock()
	m.visited = append(m.visited, domain)
	m.mu.Unlock()
	if m.fetchFn != nil {
		return m.fetchFn(ctx, domain, dryRun)
	}
	return orchestrator.Result{}, nil
}

func (m *mockFetcher) Visited() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.visited)
}

type mockDomains struct {
	namesFn func(ctx context.Context) ([]string, error)
}

func (m *mockDomains) Names(ctx context.Context) ([]string, error) {
	return m.namesFn(ctx)
}

type mockRuns struct {
	mu       sync.Mutex
	created  []model.RunState
	updates  []model.RunState
	createFn func(ctx context.Context, run *model.RunState) error
}

func (m *mockRuns) Create(ctx context.Context, run *model.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createFn != nil {
		if err := m.createFn(ctx, run); err != nil {
			return err
		}
	}
	m.created = append(m.created, *run)
	return nil
}

func (m *mockRuns) Update(_ context.Context, run *model.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, *run)
	return nil
}

func (m *mockRuns) last() model.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[len(m.updates)-1]
}

var testCutoff = time.Date(2018, 10, 1, 0, 0, 0, 0, time.UTC)

func stored(names ...string) *mockDomains {
	return &mockDomains{namesFn: func(context.Context) ([]string, error) { return names, nil }}
}

func newTestController(f issuanceFilter, fe domainFetcher, d domainLister, r runStore) *Controller {
	return New(f, fe, d, r, Config{
		Cutoff:                     testCutoff,
		IncludeSubdomains:          true,
		ExceptionDomains:           []string{"nasa.gov"},
		ExceptionIncludeExpired:    false,
		ExceptionIncludeSubdomains: true,
	}, zap.NewNop())
}

// --- Run ---

func TestRun_ExceptionDomainsLast(t *testing.T) {
	fe := &mockFetcher{}
	c := newTestController(&mockFilter{}, fe, stored("cisa.gov", "nasa.gov", "whitehouse.gov"), &mockRuns{})

	sum, err := c.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"cisa.gov", "whitehouse.gov", "nasa.gov"}
	if got := fe.Visited(); !slices.Equal(got, want) {
		t.Errorf("visited = %v, want %v", got, want)
	}
	if sum.Domains != 3 {
		t.Errorf("Domains = %d, want 3", sum.Domains)
	}
	if sum.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestRun_SkipToIsInclusiveAcrossWholeList(t *testing.T) {
	tests := []struct {
		name   string
		skipTo string
		want   []string
	}{
		{"first", "a.gov", []string{"a.gov", "b.gov", "c.gov", "nasa.gov"}},
		{"middle", "b.gov", []string{"b.gov", "c.gov", "nasa.gov"}},
		{"exception domain", "nasa.gov", []string{"nasa.gov"}},
		{"case insensitive", "C.GOV", []string{"c.gov", "nasa.gov"}},
		{"unknown", "zzz.gov", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &mockFetcher{}
			c := newTestController(&mockFilter{}, fe, stored("a.gov", "b.gov", "c.gov", "nasa.gov"), &mockRuns{})

			if _, err := c.Run(context.Background(), Options{SkipTo: tt.skipTo}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := fe.Visited(); !slices.Equal(got, tt.want) {
				t.Errorf("visited = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_ExplicitDomainsBypassStore(t *testing.T) {
	fe := &mockFetcher{}
	d := &mockDomains{namesFn: func(context.Context) ([]string, error) {
		t.Error("Names() should not be called")
		return nil, nil
	}}
	c := newTestController(&mockFilter{}, fe, d, &mockRuns{})

	if _, err := c.Run(context.Background(), Options{Domains: []string{"dhs.gov"}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := fe.Visited(); !slices.Equal(got, []string{"dhs.gov"}) {
		t.Errorf("visited = %v, want [dhs.gov]", got)
	}
}

func TestRun_PolicyPerDomain(t *testing.T) {
	f := &mockFilter{}
	c := newTestController(f, &mockFetcher{}, stored("cisa.gov", "NASA.gov"), &mockRuns{})

	if _, err := c.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	regular := novelty.Policy{Cutoff: testCutoff, IncludeSubdomains: true, IncludeExpired: true}
	if got := f.policies["cisa.gov"]; got != regular {
		t.Errorf("cisa.gov policy = %+v, want %+v", got, regular)
	}
	exception := novelty.Policy{Cutoff: testCutoff, IncludeSubdomains: true, IncludeExpired: false}
	if got := f.policies["NASA.gov"]; got != exception {
		t.Errorf("NASA.gov policy = %+v, want %+v", got, exception)
	}
}

func TestRun_SummaryFailuresContinue(t *testing.T) {
	f := &mockFilter{
		newFn: func(_ context.Context, domain string, _ novelty.Policy) (iter.Seq2[model.Issuance, error], error) {
			switch domain {
			case "bad_domain":
				return nil, errors.Join(ctlog.ErrInvalidDomain, domainname.ErrInvalid)
			case "flaky.gov":
				return nil, ctlog.ErrTransientFetch
			}
			return emptySeq, nil
		},
	}
	fe := &mockFetcher{}
	c := newTestController(f, fe, stored("bad_domain", "flaky.gov", "ok.gov"), &mockRuns{})

	sum, err := c.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := fe.Visited(); !slices.Equal(got, []string{"ok.gov"}) {
		t.Errorf("visited = %v, want [ok.gov]", got)
	}
	if sum.Domains != 3 {
		t.Errorf("Domains = %d, want 3", sum.Domains)
	}
}

func TestRun_StorageErrorAborts(t *testing.T) {
	fe := &mockFetcher{
		fetchFn: func(_ context.Context, domain string, _ bool) (orchestrator.Result, error) {
			if domain == "b.gov" {
				return orchestrator.Result{Imported: 1}, repository.ErrUnavailable
			}
			return orchestrator.Result{Imported: 2}, nil
		},
	}
	runs := &mockRuns{}
	c := newTestController(&mockFilter{}, fe, stored("a.gov", "b.gov", "c.gov"), runs)

	sum, err := c.Run(context.Background(), Options{})
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("Run() error = %v, want ErrUnavailable", err)
	}
	if got := fe.Visited(); !slices.Equal(got, []string{"a.gov", "b.gov"}) {
		t.Errorf("visited = %v, want [a.gov b.gov]", got)
	}
	if sum.Imported != 3 {
		t.Errorf("Imported = %d, want 3", sum.Imported)
	}

	final := runs.last()
	if final.FinishedAt == nil || final.IsRunning {
		t.Error("final run state not marked finished")
	}
	if final.Error == "" {
		t.Error("final run state has no error")
	}
	if final.LastDomain != "a.gov" {
		t.Errorf("LastDomain = %q, want %q", final.LastDomain, "a.gov")
	}
}

func TestRun_AccumulatesAndRecords(t *testing.T) {
	fe := &mockFetcher{
		fetchFn: func(context.Context, string, bool) (orchestrator.Result, error) {
			return orchestrator.Result{Imported: 2, Duplicates: 1, ParseFailures: 1}, nil
		},
	}
	runs := &mockRuns{}
	c := newTestController(&mockFilter{}, fe, stored("a.gov", "b.gov"), runs)

	sum, err := c.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Imported != 4 || sum.Duplicates != 2 || sum.ParseFailures != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Total() != 6 {
		t.Errorf("Total() = %d, want 6", sum.Total())
	}

	if len(runs.created) != 1 || runs.created[0].ID != sum.RunID {
		t.Fatalf("created = %+v, want one run with id %s", runs.created, sum.RunID)
	}
	final := runs.last()
	if final.Imported != 4 || final.DomainsProcessed != 2 || final.LastDomain != "b.gov" {
		t.Errorf("final state = %+v", final)
	}
	if final.Error != "" {
		t.Errorf("final Error = %q, want empty", final.Error)
	}
}

func TestRun_DryRunRecordsNothing(t *testing.T) {
	var gotDryRun bool
	fe := &mockFetcher{
		fetchFn: func(_ context.Context, _ string, dryRun bool) (orchestrator.Result, error) {
			gotDryRun = dryRun
			return orchestrator.Result{}, nil
		},
	}
	runs := &mockRuns{}
	c := newTestController(&mockFilter{}, fe, stored("a.gov"), runs)

	if _, err := c.Run(context.Background(), Options{DryRun: true}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !gotDryRun {
		t.Error("dry run not passed to fetcher")
	}
	if len(runs.created) != 0 || len(runs.updates) != 0 {
		t.Error("dry run wrote run state")
	}
}

func TestRun_ListError(t *testing.T) {
	d := &mockDomains{namesFn: func(context.Context) ([]string, error) {
		return nil, repository.ErrUnavailable
	}}
	c := newTestController(&mockFilter{}, &mockFetcher{}, d, &mockRuns{})

	if _, err := c.Run(context.Background(), Options{}); !errors.Is(err, repository.ErrUnavailable) {
		t.Errorf("Run() error = %v, want ErrUnavailable", err)
	}
}

func TestRun_CreateRunError(t *testing.T) {
	runs := &mockRuns{createFn: func(context.Context, *model.RunState) error {
		return repository.ErrUnavailable
	}}
	fe := &mockFetcher{}
	c := newTestController(&mockFilter{}, fe, stored("a.gov"), runs)

	if _, err := c.Run(context.Background(), Options{}); !errors.Is(err, repository.ErrUnavailable) {
		t.Errorf("Run() error = %v, want ErrUnavailable", err)
	}
	if len(fe.Visited()) != 0 {
		t.Error("domains processed after failing to record run")
	}
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fe := &mockFetcher{
		fetchFn: func(context.Context, string, bool) (orchestrator.Result, error) {
			cancel()
			return orchestrator.Result{}, nil
		},
	}
	c := newTestController(&mockFilter{}, fe, stored("a.gov", "b.gov"), &mockRuns{})

	_, err := c.Run(ctx, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if got := fe.Visited(); !slices.Equal(got, []string{"a.gov"}) {
		t.Errorf("visited = %v, want [a.gov]", got)
	}
}

// --- Start / Stop ---

// blockingFetcher blocks every domain until its context ends.
func blockingFetcher(started chan<- struct{}) *mockFetcher {
	return &mockFetcher{
		fetchFn: func(ctx context.Context, _ string, _ bool) (orchestrator.Result, error) {
			started <- struct{}{}
			<-ctx.Done()
			return orchestrator.Result{}, ctx.Err()
		},
	}
}

func TestStart_Success(t *testing.T) {
	started := make(chan struct{}, 1)
	c := newTestController(&mockFilter{}, blockingFetcher(started), stored("a.gov"), &mockRuns{})

	if err := c.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	<-started
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestStart_SurvivesCanceledCallerContext(t *testing.T) {
	started := make(chan struct{}, 1)
	c := newTestController(&mockFilter{}, blockingFetcher(started), stored("a.gov"), &mockRuns{})

	callerCtx, callerCancel := context.WithCancel(context.Background())
	if err := c.Start(callerCtx, Options{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	callerCancel()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the run to start")
	}
	if !c.IsRunning() {
		t.Error("IsRunning() = false after caller context canceled")
	}
	c.Stop(context.Background())
}

func TestStart_AlreadyRunning(t *testing.T) {
	started := make(chan struct{}, 1)
	c := newTestController(&mockFilter{}, blockingFetcher(started), stored("a.gov"), &mockRuns{})

	c.Start(context.Background(), Options{})
	defer c.Stop(context.Background())

	err := c.Start(context.Background(), Options{})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStop_RecordsCanceledRun(t *testing.T) {
	started := make(chan struct{}, 1)
	runs := &mockRuns{}
	c := newTestController(&mockFilter{}, blockingFetcher(started), stored("a.gov"), runs)

	c.Start(context.Background(), Options{})
	<-started

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	final := runs.last()
	if final.FinishedAt == nil || final.Error == "" {
		t.Errorf("final state = %+v, want finished with error", final)
	}
}

func TestStop_NotRunning(t *testing.T) {
	c := newTestController(&mockFilter{}, &mockFetcher{}, stored(), &mockRuns{})

	err := c.Stop(context.Background())
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestIsRunning_DefaultFalse(t *testing.T) {
	c := newTestController(&mockFilter{}, &mockFetcher{}, stored(), &mockRuns{})
	if c.IsRunning() {
		t.Error("IsRunning() = true for new controller")
	}
}

func TestBackground_ClearsRunningWhenFinished(t *testing.T) {
	c := newTestController(&mockFilter{}, &mockFetcher{}, stored("a.gov"), &mockRuns{})

	if err := c.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.After(time.Second)
	for c.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("run never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBackground_RecoversPanic(t *testing.T) {
	fe := &mockFetcher{
		fetchFn: func(context.Context, string, bool) (orchestrator.Result, error) {
			panic("boom")
		},
	}
	runs := &mockRuns{}
	c := newTestController(&mockFilter{}, fe, stored("a.gov"), runs)

	c.Start(context.Background(), Options{})
	deadline := time.After(time.Second)
	for c.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("run never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := runs.last().Error; got != "panic: boom" {
		t.Errorf("final Error = %q, want %q", got, "panic: boom")
	}
}
