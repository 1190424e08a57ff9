package pinner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/utils/cpuset"

	"aurora-vcpu-pin/internal/model"
)

var (
	ErrNegativeCount  = errors.New("vcpu count must not be negative")
	ErrNotEnoughVCPUs = errors.New("fewer vcpus reported than requested")
	ErrNotEnoughCores = errors.New("fewer host cpus than requested vcpus")
)

type VCPUSource interface {
	QueryVCPUs(ctx context.Context) ([]model.VCPU, error)
}

type TopologySource interface {
	Topology(ctx context.Context) (model.Topology, error)
}

type AffinitySetter interface {
	Pin(tid, cpu int) error
	Get(tid int) (cpuset.CPUSet, error)
}

// PinError reports the assignment that failed. Assignments before it were
// applied and stay in place.
type PinError struct {
	Assignment model.Assignment
	Err        error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("pin vcpu %d (thread %d) to cpu %d: %v", e.Assignment.VCPU, e.Assignment.ThreadID, e.Assignment.CPU, e.Err)
}

func (e *PinError) Unwrap() error {
	return e.Err
}

type Pinner struct {
	vcpus    VCPUSource
	topology TopologySource
	affinity AffinitySetter
	logger   *slog.Logger
	dryRun   bool
}

type Option func(*Pinner)

// WithDryRun plans and logs assignments without touching thread affinity.
func WithDryRun(enabled bool) Option {
	return func(p *Pinner) {
		p.dryRun = enabled
	}
}

func New(vcpus VCPUSource, topology TopologySource, affinity AffinitySetter, logger *slog.Logger, opts ...Option) *Pinner {
	p := &Pinner{
		vcpus:    vcpus,
		topology: topology,
		affinity: affinity,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run pins the first count vCPU threads to host CPUs in NUMA order and
// returns the assignments that were applied. It stops at the first failure.
func (p *Pinner) Run(ctx context.Context, count int) ([]model.Assignment, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}
	if count == 0 {
		p.logger.Info("nothing to pin", "vcpu_count", 0)
		return []model.Assignment{}, nil
	}

	vcpus, err := p.vcpus.QueryVCPUs(ctx)
	if err != nil {
		return nil, fmt.Errorf("query vcpus: %w", err)
	}
	p.logger.Debug("vcpus reported", "count", len(vcpus), "threads", model.ThreadIDs(vcpus))

	topo, err := p.topology.Topology(ctx)
	if err != nil {
		return nil, fmt.Errorf("read numa topology: %w", err)
	}
	cores := topo.CoreOrder()
	p.logger.Debug("host core order", "numa_nodes", len(topo.Nodes), "cores", cores)

	plan, err := Plan(vcpus, cores, count)
	if err != nil {
		return nil, err
	}

	applied := make([]model.Assignment, 0, len(plan))
	for _, a := range plan {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if p.dryRun {
			attrs := []any{"vcpu", a.VCPU, "thread_id", a.ThreadID, "cpu", a.CPU}
			if current, ok := p.currentAffinity(a.ThreadID); ok {
				attrs = append(attrs, "current", current.String())
			}
			p.logger.Info("would pin vcpu", attrs...)
			applied = append(applied, a)
			continue
		}
		if err := p.affinity.Pin(a.ThreadID, a.CPU); err != nil {
			return applied, &PinError{Assignment: a, Err: err}
		}
		p.logger.Info("pinned vcpu", "vcpu", a.VCPU, "thread_id", a.ThreadID, "cpu", a.CPU)
		if p.logger.Enabled(ctx, slog.LevelDebug) {
			if current, ok := p.currentAffinity(a.ThreadID); ok {
				p.logger.Debug("thread affinity after pin", "thread_id", a.ThreadID, "cpus", current.String())
			}
		}
		applied = append(applied, a)
	}
	return applied, nil
}

// currentAffinity is informational only; a failed lookup never fails the run.
func (p *Pinner) currentAffinity(tid int) (cpuset.CPUSet, bool) {
	current, err := p.affinity.Get(tid)
	if err != nil {
		p.logger.Debug("read thread affinity failed", "thread_id", tid, "error", err)
		return cpuset.CPUSet{}, false
	}
	return current, true
}

// Plan pairs the i-th vCPU with the i-th core for i in [0, count). It
// refuses rather than wrapping or truncating when either side is short.
func Plan(vcpus []model.VCPU, cores []int, count int) ([]model.Assignment, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}
	if count > len(vcpus) {
		return nil, fmt.Errorf("%w: requested %d, reported %d", ErrNotEnoughVCPUs, count, len(vcpus))
	}
	if count > len(cores) {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrNotEnoughCores, count, len(cores))
	}

	out := make([]model.Assignment, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, model.Assignment{
			VCPU:     vcpus[i].Index,
			ThreadID: vcpus[i].ThreadID,
			CPU:      cores[i],
		})
	}
	return out, nil
}
