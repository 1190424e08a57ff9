package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"aurora-vcpu-pin/internal/agent"
	"aurora-vcpu-pin/internal/config"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if err := newApp(stdout, stderr).Run(args); err != nil {
		fmt.Fprintf(stderr, "vcpu-pin: %v\n", err)
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		return exitFailure
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	defaults := config.Load()

	return &cli.App{
		Name:            "vcpu-pin",
		Usage:           "pin the vCPU threads of a running QEMU guest to host cores in NUMA order",
		ArgsUsage:       "PORT COUNT (PORT is ignored with --backend libvirt; pass -)",
		Writer:          stdout,
		ErrWriter:       stderr,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: defaults.Host, Usage: "QMP listener host"},
			&cli.StringFlag{Name: "backend", Value: string(defaults.Backend), Usage: "vCPU query backend (qmp or libvirt); libvirt ignores PORT"},
			&cli.StringFlag{Name: "domain", Value: defaults.Domain, Usage: "libvirt domain name (libvirt backend)"},
			&cli.StringFlag{Name: "libvirt-uri", Value: defaults.LibvirtURI, Usage: "libvirt connection URI"},
			&cli.StringFlag{Name: "topology", Value: string(defaults.Topology), Usage: "NUMA topology source (sysfs or libvirt)"},
			&cli.StringFlag{Name: "sysfs-root", Value: defaults.SysfsRoot, Usage: "sysfs mount point"},
			&cli.DurationFlag{Name: "dial-timeout", Value: defaults.DialTimeout, Usage: "QMP connect timeout, 0 for none"},
			&cli.BoolFlag{Name: "dry-run", Value: defaults.DryRun, Usage: "log the assignments without pinning"},
			&cli.StringFlag{Name: "log-level", Value: defaults.LogLevel, Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "log-json", Value: defaults.LogJSON, Usage: "log as JSON"},
		},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			return cli.Exit(err.Error(), exitUsage)
		},
		// Exit codes are mapped in run; keep cli from calling os.Exit.
		ExitErrHandler: func(*cli.Context, error) {},
		Action: func(c *cli.Context) error {
			cfg, err := configFromContext(c, defaults)
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := agent.BuildLogger(cfg, stderr)
			if _, err := agent.New(cfg, logger).Run(ctx); err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			return nil
		},
	}
}

func configFromContext(c *cli.Context, cfg config.Config) (config.Config, error) {
	if c.NArg() != 2 {
		return cfg, fmt.Errorf("expected PORT COUNT, got %d argument(s)", c.NArg())
	}
	port, err := parsePort(c.Args().Get(0))
	if err != nil {
		return cfg, err
	}
	count, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return cfg, fmt.Errorf("invalid vcpu count %q", c.Args().Get(1))
	}

	cfg.Port = port
	cfg.VCPUCount = count
	cfg.Host = c.String("host")
	cfg.Backend = config.Backend(strings.ToLower(c.String("backend")))
	cfg.Domain = c.String("domain")
	cfg.LibvirtURI = c.String("libvirt-uri")
	cfg.Topology = config.TopologySource(strings.ToLower(c.String("topology")))
	cfg.SysfsRoot = c.String("sysfs-root")
	cfg.DialTimeout = c.Duration("dial-timeout")
	cfg.DryRun = c.Bool("dry-run")
	cfg.LogLevel = strings.ToLower(c.String("log-level"))
	cfg.LogJSON = c.Bool("log-json")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// parsePort accepts "-" as a placeholder for backends that do not dial QMP.
// Validate still rejects port 0 for the qmp backend.
func parsePort(arg string) (int, error) {
	if arg == "-" {
		return 0, nil
	}
	port, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", arg)
	}
	return port, nil
}
