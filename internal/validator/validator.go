package validator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/williamhogman/sparkmesh/internal/metrics"
	"github.com/williamhogman/sparkmesh/internal/remote"
	"github.com/williamhogman/sparkmesh/internal/types"
)

// Options selects and tunes validation tests
type Options struct {
	Tests             []types.TestKind
	PingCount         int
	BandwidthDuration time.Duration
	BandwidthPort     int
	ExpectGPU         bool
	// Parallelism bounds how many tests run at once; 0 means one per test
	Parallelism int
}

func (o Options) withDefaults() Options {
	if len(o.Tests) == 0 {
		o.Tests = types.AllTests
	}
	if o.PingCount <= 0 {
		o.PingCount = 5
	}
	if o.BandwidthDuration <= 0 {
		o.BandwidthDuration = 5 * time.Second
	}
	if o.BandwidthPort == 0 {
		o.BandwidthPort = 5201
	}
	return o
}

// Validator runs connectivity, throughput and GPU checks across nodes
type Validator struct {
	exec     remote.Executor
	locks    LinkLocker
	recorder *metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a validator. recorder may be nil.
func New(exec remote.Executor, locks LinkLocker, recorder *metrics.Recorder, logger *zap.Logger) *Validator {
	return &Validator{
		exec:     exec,
		locks:    locks,
		recorder: recorder,
		logger:   logger.Named("validator"),
		now:      time.Now,
	}
}

type task struct {
	kind types.TestKind
	node types.Node
	peer *types.Node
}

// Validate runs the selected tests. ssh and gpu run once per node; ping and
// bandwidth run once per unordered node pair. Tests are independent: one
// failing never prevents another from running. Results are sorted.
func (v *Validator) Validate(ctx context.Context, nodes []types.Node, opts Options) []types.ValidationTestResult {
	opts = opts.withDefaults()
	tasks := plan(nodes, opts.Tests)

	var (
		mu      sync.Mutex
		results = make([]types.ValidationTestResult, 0, len(tasks))
	)

	var g errgroup.Group
	if opts.Parallelism > 0 {
		g.SetLimit(opts.Parallelism)
	}
	for _, t := range tasks {
		g.Go(func() error {
			res := v.run(ctx, t, opts)
			v.recorder.ObserveTest(res)

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	SortResults(results)
	return results
}

func plan(nodes []types.Node, kinds []types.TestKind) []task {
	var tasks []task
	for _, kind := range kinds {
		switch kind {
		case types.TestSSH, types.TestGPU:
			for _, n := range nodes {
				tasks = append(tasks, task{kind: kind, node: n})
			}
		case types.TestPing, types.TestBandwidth:
			for i := 0; i < len(nodes); i++ {
				for j := i + 1; j < len(nodes); j++ {
					peer := nodes[j]
					tasks = append(tasks, task{kind: kind, node: nodes[i], peer: &peer})
				}
			}
		}
	}
	return tasks
}

func (v *Validator) run(ctx context.Context, t task, opts Options) types.ValidationTestResult {
	start := v.now()
	res := types.ValidationTestResult{Kind: t.kind, Node: t.node.Hostname}
	if t.peer != nil {
		res.Peer = t.peer.Hostname
	}

	logger := v.logger.With(zap.String("test", string(t.kind)), t.node.ZapField())
	logger.Debug("starting test")

	switch t.kind {
	case types.TestSSH:
		v.testSSH(ctx, t.node, &res)
	case types.TestPing:
		v.testPing(ctx, t.node, *t.peer, opts, &res)
	case types.TestBandwidth:
		v.testBandwidth(ctx, t.node, *t.peer, opts, &res)
	case types.TestGPU:
		v.testGPU(ctx, t.node, opts, &res)
	}

	res.DurationMs = time.Since(start).Milliseconds()
	res.Timestamp = v.now().UTC()

	if res.Failed() {
		logger.Warn("test failed", zap.String("peer", res.Peer), zap.String("error", res.Error))
	} else {
		logger.Debug("test finished", zap.Bool("skipped", res.Skipped))
	}
	return res
}

// SortResults orders results by kind, node, then peer
func SortResults(results []types.ValidationTestResult) {
	kindOrder := make(map[types.TestKind]int, len(types.AllTests))
	for i, k := range types.AllTests {
		kindOrder[k] = i
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		return a.Peer < b.Peer
	})
}

// AllPassed reports whether no test ran and failed
func AllPassed(results []types.ValidationTestResult) bool {
	for _, r := range results {
		if r.Failed() {
			return false
		}
	}
	return true
}
