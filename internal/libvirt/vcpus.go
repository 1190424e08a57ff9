package libvirt

import (
	"context"
	"fmt"
	"log/slog"

	golibvirt "github.com/digitalocean/go-libvirt"

	"aurora-vcpu-pin/internal/model"
	"aurora-vcpu-pin/internal/qmp"
)

// DomainMonitor is the slice of the libvirt API needed to reach a
// domain's QEMU monitor. *golibvirt.Libvirt satisfies it.
type DomainMonitor interface {
	DomainLookupByName(name string) (golibvirt.Domain, error)
	QEMUDomainMonitorCommand(dom golibvirt.Domain, cmd string, flags uint32) (string, error)
}

// VCPUSource asks a libvirt-managed domain for its vCPU threads by passing
// query-cpus-fast through to the QEMU monitor.
type VCPUSource struct {
	client DomainMonitor
	domain string
	logger *slog.Logger
}

func NewVCPUSource(client DomainMonitor, domain string, logger *slog.Logger) *VCPUSource {
	return &VCPUSource{client: client, domain: domain, logger: logger}
}

func (s *VCPUSource) QueryVCPUs(ctx context.Context) ([]model.VCPU, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dom, err := s.client.DomainLookupByName(s.domain)
	if err != nil {
		if golibvirt.IsNotFound(err) {
			return nil, fmt.Errorf("domain %s not found: %w", s.domain, err)
		}
		return nil, fmt.Errorf("lookup domain %s: %w", s.domain, err)
	}

	cmd := `{"execute":"` + qmp.CommandQueryCPUsFast + `"}`
	reply, err := s.client.QEMUDomainMonitorCommand(dom, cmd, 0)
	if err != nil {
		return nil, fmt.Errorf("monitor command on %s: %w", s.domain, err)
	}
	s.logger.Debug("libvirt vcpu reply", "domain", s.domain, "raw", reply)

	raw, err := qmp.ParseReply([]byte(reply))
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", s.domain, err)
	}
	return qmp.DecodeCPUs(raw)
}
