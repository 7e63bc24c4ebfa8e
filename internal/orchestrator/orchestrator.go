package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/metrics"
	"github.com/williamhogman/sparkmesh/internal/phases"
	"github.com/williamhogman/sparkmesh/internal/remote"
	"github.com/williamhogman/sparkmesh/internal/types"
	"github.com/williamhogman/sparkmesh/internal/validator"
)

// FailurePolicy decides what happens to later phases after a failure
type FailurePolicy string

const (
	// PolicyIsolate keeps provisioning nodes that have not failed; a failed
	// node is skipped for every phase depending on the one it failed.
	PolicyIsolate FailurePolicy = "isolate"
	// PolicyHalt stops all provisioning after the first failed phase.
	PolicyHalt FailurePolicy = "halt"
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case PolicyIsolate, PolicyHalt:
		return FailurePolicy(s), nil
	case "":
		return PolicyIsolate, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Options tunes a single run
type Options struct {
	Policy FailurePolicy
	// Only restricts the run to these phases
	Only      []types.Phase
	Observers []Observer
	// Health overrides the checker built from the cluster's health command
	Health HealthChecker
}

// Orchestrator drives cluster bring-up phase by phase
type Orchestrator struct {
	registry  *phases.Registry
	validator *validator.Validator
	exec      remote.Executor
	recorder  *metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an orchestrator. recorder may be nil.
func New(registry *phases.Registry, v *validator.Validator, exec remote.Executor, recorder *metrics.Recorder, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		validator: v,
		exec:      exec,
		recorder:  recorder,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}
}

// Deploy runs every enabled phase
func (o *Orchestrator) Deploy(ctx context.Context, cfg *cluster.ClusterConfig, opts Options) (*types.ClusterStatusReport, error) {
	opts.Only = nil
	return o.Run(ctx, cfg, opts)
}

// RunPhase runs a single phase, assuming its dependencies are already met
func (o *Orchestrator) RunPhase(ctx context.Context, cfg *cluster.ClusterConfig, phase types.Phase, opts Options) (*types.ClusterStatusReport, error) {
	opts.Only = []types.Phase{phase}
	return o.Run(ctx, cfg, opts)
}

// Run plans and executes phases. The returned report is a copy owned by the
// caller. An error is returned only when the run could not start.
func (o *Orchestrator) Run(ctx context.Context, cfg *cluster.ClusterConfig, opts Options) (*types.ClusterStatusReport, error) {
	if opts.Policy == "" {
		opts.Policy = PolicyIsolate
	}

	plan := NewPlan(cfg, opts.Only...)
	for _, p := range plan.Enabled() {
		if p == types.PhaseValidate {
			continue
		}
		if err := o.registry.Require(p); err != nil {
			return nil, err
		}
	}

	report := o.newReport(cfg, plan)
	state := newRunState(report, opts.Observers)
	logger := o.logger.With(report.RunID.ZapField(), zap.String("cluster", cfg.ClusterName))
	logger.Info("run planned", zap.Any("phases", plan.Enabled()), zap.String("policy", string(opts.Policy)))

	state.update(func(r *types.ClusterStatusReport) { r.State = types.RunExecuting })
	state.publish()

	var (
		failed      bool
		haltedPhase types.Phase
	)
	for i, pp := range plan.Phases {
		if !pp.Enabled {
			continue
		}

		phaseLogger := logger.With(zap.String("phase", string(pp.Phase)))
		if failed && !o.shouldRun(pp.Phase, cfg, opts.Policy) {
			for _, n := range cfg.Nodes {
				state.skip(i, n.Hostname, types.CauseHalted)
			}
			state.update(func(r *types.ClusterStatusReport) { r.Phases[i].Status = types.PhaseStatusSkipped })
			phaseLogger.Info("phase skipped after earlier failure")
			state.publish()
			continue
		}

		start := o.now()
		state.update(func(r *types.ClusterStatusReport) {
			r.Phases[i].Status = types.PhaseStatusRunning
			r.Phases[i].StartedAt = start
		})
		phaseLogger.Info("phase started")

		if pp.Phase == types.PhaseValidate {
			o.runValidate(ctx, cfg, i, state, opts)
		} else {
			o.runProvisioning(ctx, cfg, i, pp, state)
		}

		status := o.finalizePhase(i, state, start)
		result := state.phase(i)
		o.recorder.ObservePhase(result)
		phaseLogger.Info("phase finished",
			zap.String("status", string(status)),
			zap.Int64("durationMs", result.DurationMs))
		state.publish()

		if status.Failed() && !failed {
			failed = true
			haltedPhase = pp.Phase
		}
	}

	state.update(func(r *types.ClusterStatusReport) {
		r.FinishedAt = o.now()
		if failed {
			r.State = types.RunHalted
			r.HaltedPhase = haltedPhase
		} else {
			r.State = types.RunCompleted
		}
	})
	final := state.snapshot()
	o.recorder.ObserveRun(final)
	logger.Info("run finished", zap.String("state", string(final.State)), zap.String("haltedPhase", string(final.HaltedPhase)))
	state.publish()
	return final, nil
}

// shouldRun decides whether a phase still runs once an earlier one failed
func (o *Orchestrator) shouldRun(phase types.Phase, cfg *cluster.ClusterConfig, policy FailurePolicy) bool {
	if phase == types.PhaseValidate {
		return cfg.ValidatesOnFailure()
	}
	return policy == PolicyIsolate
}

func (o *Orchestrator) newReport(cfg *cluster.ClusterConfig, plan Plan) *types.ClusterStatusReport {
	report := &types.ClusterStatusReport{
		RunID:       types.GenerateRunID(),
		ClusterName: cfg.ClusterName,
		State:       types.RunPlanning,
		StartedAt:   o.now(),
		Nodes:       append([]types.Node(nil), cfg.Nodes...),
	}
	for _, pp := range plan.Phases {
		pr := types.PhaseResult{Phase: pp.Phase, Status: types.PhaseStatusPending}
		if !pp.Enabled {
			pr.Status = types.PhaseStatusSkipped
		}
		for _, n := range cfg.Nodes {
			nr := types.NodeResult{Hostname: n.Hostname, Outcome: types.OutcomePending}
			if !pp.Enabled {
				nr.Outcome = types.OutcomeSkipped
				nr.Cause = types.CauseFeatureDisabled
			}
			pr.Nodes = append(pr.Nodes, nr)
		}
		report.Phases = append(report.Phases, pr)
	}
	return report
}

// blockedBy returns the first dependency phase a node did not complete
func blockedBy(report *types.ClusterStatusReport, deps []types.Phase, hostname string) (types.Phase, bool) {
	for _, dep := range deps {
		pr, ok := report.Phase(dep)
		if !ok {
			continue
		}
		nr, ok := pr.Node(hostname)
		if !ok {
			continue
		}
		if nr.Outcome == types.OutcomeFailed || (nr.Outcome == types.OutcomeSkipped && nr.Cause != types.CauseFeatureDisabled) {
			return dep, true
		}
	}
	return "", false
}

func (o *Orchestrator) runProvisioning(ctx context.Context, cfg *cluster.ClusterConfig, idx int, pp PlannedPhase, state *runState) {
	executor, _ := o.registry.Lookup(pp.Phase)

	var eligible []types.Node
	state.update(func(r *types.ClusterStatusReport) {
		for _, n := range cfg.Nodes {
			if dep, blocked := blockedBy(r, pp.DependsOn, n.Hostname); blocked {
				for j := range r.Phases[idx].Nodes {
					if r.Phases[idx].Nodes[j].Hostname == n.Hostname {
						r.Phases[idx].Nodes[j].Outcome = types.OutcomeSkipped
						r.Phases[idx].Nodes[j].Cause = fmt.Sprintf("%s: %s", types.CauseDependencyFailed, dep)
					}
				}
				continue
			}
			eligible = append(eligible, n)
		}
	})

	var g errgroup.Group
	g.SetLimit(poolSize(len(eligible), cfg.MaxParallel))
	for _, n := range eligible {
		g.Go(func() error {
			state.start(idx, n.Hostname, o.now())
			err := executor.Execute(ctx, phases.Target{Node: n, Cluster: cfg})
			if err != nil {
				o.logger.Warn("node failed phase", n.ZapField(), zap.String("phase", string(pp.Phase)), zap.Error(err))
				state.finish(idx, n.Hostname, types.OutcomeFailed, string(remote.KindOf(err)), err, o.now())
				return nil
			}
			state.finish(idx, n.Hostname, types.OutcomeSuccess, "", nil, o.now())
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runValidate(ctx context.Context, cfg *cluster.ClusterConfig, idx int, state *runState, opts Options) {
	start := o.now()
	for _, n := range cfg.Nodes {
		state.start(idx, n.Hostname, start)
	}

	var (
		tests    []types.ValidationTestResult
		healthMu sync.Mutex
		reports  = make(map[string]types.HealthReport)
		errs     = make(map[string]string)
	)

	checker := opts.Health
	if checker == nil && cfg.HealthCommand() != "" {
		checker = NewRemoteHealth(o.exec, RemoteHealthCommand(cfg))
	}

	var g errgroup.Group
	g.Go(func() error {
		tests = o.validator.Validate(ctx, cfg.Nodes, validator.Options{
			Tests:             cfg.Validation.Tests,
			PingCount:         cfg.Validation.PingCount,
			BandwidthDuration: cfg.Validation.BandwidthDuration.Std(),
			BandwidthPort:     cfg.Validation.BandwidthPort,
			ExpectGPU:         cfg.ExpectsGPU(),
			Parallelism:       cfg.MaxParallel,
		})
		return nil
	})
	if checker != nil {
		for _, n := range cfg.Nodes {
			g.Go(func() error {
				report, err := checker.Check(ctx, n)
				healthMu.Lock()
				defer healthMu.Unlock()
				if err != nil {
					errs[n.Hostname] = err.Error()
					return nil
				}
				reports[n.Hostname] = report
				return nil
			})
		}
	}
	_ = g.Wait()

	state.update(func(r *types.ClusterStatusReport) {
		r.Tests = tests
		if len(reports) > 0 {
			r.Health = reports
		}
		if len(errs) > 0 {
			r.HealthErrors = errs
		}
	})

	end := o.now()
	for _, n := range cfg.Nodes {
		var failures []string
		for _, t := range tests {
			if t.Involves(n.Hostname) && t.Failed() {
				failures = append(failures, string(t.Kind))
			}
		}
		if msg, ok := errs[n.Hostname]; ok {
			failures = append(failures, "health: "+msg)
		} else if h, ok := reports[n.Hostname]; ok && !h.Status.Serving() {
			failures = append(failures, "health: "+string(h.Status))
		}

		if len(failures) > 0 {
			state.finish(idx, n.Hostname, types.OutcomeFailed, "validation failed",
				fmt.Errorf("failed checks: %v", failures), end)
			continue
		}
		state.finish(idx, n.Hostname, types.OutcomeSuccess, "", nil, end)
	}
}

// finalizePhase derives the cluster-level status once every node is terminal
func (o *Orchestrator) finalizePhase(idx int, state *runState, start time.Time) types.PhaseStatus {
	var status types.PhaseStatus
	state.update(func(r *types.ClusterStatusReport) {
		pr := &r.Phases[idx]
		counts := pr.Counts()
		switch {
		case counts[types.OutcomeFailed] == 0 && counts[types.OutcomeSuccess] == 0:
			status = types.PhaseStatusSkipped
		case counts[types.OutcomeFailed] == 0:
			status = types.PhaseStatusSucceeded
		case counts[types.OutcomeSuccess] == 0:
			status = types.PhaseStatusFailed
		default:
			status = types.PhaseStatusPartial
		}
		pr.Status = status
		pr.DurationMs = o.now().Sub(start).Milliseconds()
	})
	return status
}

func poolSize(nodes, maxParallel int) int {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return max(min(nodes, maxParallel), 1)
}
