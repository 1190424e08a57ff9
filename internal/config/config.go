package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

type Backend string

const (
	BackendQMP     Backend = "qmp"
	BackendLibvirt Backend = "libvirt"
)

type TopologySource string

const (
	TopologySysfs   TopologySource = "sysfs"
	TopologyLibvirt TopologySource = "libvirt"
)

const (
	defaultHost        = "localhost"
	defaultLibvirtURI  = "qemu:///system"
	defaultSysfsRoot   = "/sys"
	defaultDialTimeout = 10 * time.Second
)

type Config struct {
	Host        string
	Port        int
	VCPUCount   int
	Backend     Backend
	Domain      string
	LibvirtURI  string
	Topology    TopologySource
	SysfsRoot   string
	DialTimeout time.Duration
	DryRun      bool
	LogJSON     bool
	LogLevel    string
}

// Load returns the environment-derived defaults. Port and VCPUCount come
// from the command line and are left zero here.
func Load() Config {
	return Config{
		Host:        env("PINNER_HOST", defaultHost),
		Backend:     Backend(strings.ToLower(env("PINNER_BACKEND", string(BackendQMP)))),
		Domain:      env("PINNER_DOMAIN", ""),
		LibvirtURI:  env("PINNER_LIBVIRT_URI", defaultLibvirtURI),
		Topology:    TopologySource(strings.ToLower(env("PINNER_TOPOLOGY", string(TopologySysfs)))),
		SysfsRoot:   env("PINNER_SYSFS_ROOT", defaultSysfsRoot),
		DialTimeout: envDuration("PINNER_DIAL_TIMEOUT", defaultDialTimeout),
		DryRun:      envBool("PINNER_DRY_RUN", false),
		LogJSON:     envBool("PINNER_LOG_JSON", false),
		LogLevel:    strings.ToLower(env("PINNER_LOG_LEVEL", "info")),
	}
}

func (c Config) Validate() error {
	var err error
	if c.VCPUCount < 0 {
		err = multierr.Append(err, fmt.Errorf("vcpu count must be >= 0, got %d", c.VCPUCount))
	}
	switch c.Backend {
	case BackendQMP:
		if strings.TrimSpace(c.Host) == "" {
			err = multierr.Append(err, errors.New("host is required for qmp backend"))
		}
		if c.Port <= 0 || c.Port > 65535 {
			err = multierr.Append(err, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
		}
	case BackendLibvirt:
		if strings.TrimSpace(c.Domain) == "" {
			err = multierr.Append(err, errors.New("PINNER_DOMAIN is required for libvirt backend"))
		}
		if strings.TrimSpace(c.LibvirtURI) == "" {
			err = multierr.Append(err, errors.New("PINNER_LIBVIRT_URI is required for libvirt backend"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unsupported backend %q", c.Backend))
	}
	switch c.Topology {
	case TopologySysfs:
		if strings.TrimSpace(c.SysfsRoot) == "" {
			err = multierr.Append(err, errors.New("PINNER_SYSFS_ROOT is required for sysfs topology"))
		}
	case TopologyLibvirt:
		if strings.TrimSpace(c.LibvirtURI) == "" {
			err = multierr.Append(err, errors.New("PINNER_LIBVIRT_URI is required for libvirt topology"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unsupported topology source %q", c.Topology))
	}
	if c.DialTimeout < 0 {
		err = multierr.Append(err, errors.New("PINNER_DIAL_TIMEOUT must be >= 0"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("unsupported log level %q", c.LogLevel))
	}
	return err
}

// Addr is the QMP endpoint in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NeedsLibvirt reports whether any configured component talks to libvirtd.
func (c Config) NeedsLibvirt() bool {
	return c.Backend == BackendLibvirt || c.Topology == TopologyLibvirt
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
