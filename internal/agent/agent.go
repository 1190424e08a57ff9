package agent

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"aurora-vcpu-pin/internal/config"
	"aurora-vcpu-pin/internal/libvirt"
	"aurora-vcpu-pin/internal/model"
	"aurora-vcpu-pin/internal/pinner"
	"aurora-vcpu-pin/internal/qmp"
	"aurora-vcpu-pin/internal/system"
)

// Agent wires the configured backends into one pinning run.
type Agent struct {
	cfg      config.Config
	logger   *slog.Logger
	conn     *libvirt.ConnManager
	affinity pinner.AffinitySetter
}

func New(cfg config.Config, logger *slog.Logger) *Agent {
	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		affinity: system.NewThreadAffinity(),
	}
	if cfg.NeedsLibvirt() {
		a.conn = libvirt.NewConnManager(cfg.LibvirtURI, logger)
	}
	return a
}

// Run performs a single pinning pass and releases any connections it
// opened. Nothing is dialed when the requested vCPU count is zero.
func (a *Agent) Run(ctx context.Context) ([]model.Assignment, error) {
	defer a.shutdown()

	a.logger.Debug("starting vcpu pinning",
		"backend", a.cfg.Backend,
		"topology", a.cfg.Topology,
		"vcpu_count", a.cfg.VCPUCount,
		"dry_run", a.cfg.DryRun,
	)
	p := pinner.New(a.vcpuSource(), a.topologySource(), a.affinity, a.logger, pinner.WithDryRun(a.cfg.DryRun))
	return p.Run(ctx, a.cfg.VCPUCount)
}

func (a *Agent) vcpuSource() pinner.VCPUSource {
	if a.cfg.Backend == config.BackendLibvirt {
		return &libvirtVCPUs{conn: a.conn, domain: a.cfg.Domain, logger: a.logger}
	}
	return &qmpVCPUs{addr: a.cfg.Addr(), timeout: a.cfg.DialTimeout, logger: a.logger}
}

func (a *Agent) topologySource() pinner.TopologySource {
	if a.cfg.Topology == config.TopologyLibvirt {
		return &libvirtTopology{conn: a.conn}
	}
	return system.NewSysfsTopology(a.cfg.SysfsRoot)
}

func (a *Agent) shutdown() {
	if a.conn == nil {
		return
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("libvirt close failed", "error", err)
	}
}

// qmpVCPUs holds one QMP session open for the duration of a single query.
type qmpVCPUs struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

func (s *qmpVCPUs) QueryVCPUs(ctx context.Context) ([]model.VCPU, error) {
	c, err := qmp.Dial(ctx, s.addr, s.timeout, s.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			s.logger.Debug("qmp close failed", "error", err)
		}
	}()
	return c.QueryVCPUs(ctx)
}

type libvirtVCPUs struct {
	conn   *libvirt.ConnManager
	domain string
	logger *slog.Logger
}

func (s *libvirtVCPUs) QueryVCPUs(ctx context.Context) ([]model.VCPU, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	return libvirt.NewVCPUSource(client, s.domain, s.logger).QueryVCPUs(ctx)
}

type libvirtTopology struct {
	conn *libvirt.ConnManager
}

func (s *libvirtTopology) Topology(ctx context.Context) (model.Topology, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		return model.Topology{}, err
	}
	return libvirt.NewTopologySource(client).Topology(ctx)
}

// BuildLogger writes to w at the configured level. Terminals get colored
// output; everything else gets logfmt, or JSON when LogJSON is set.
func BuildLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
