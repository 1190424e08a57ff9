package libvirt

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"

	"aurora-vcpu-pin/internal/model"
)

// CapabilitiesReader is satisfied by *golibvirt.Libvirt.
type CapabilitiesReader interface {
	ConnectGetCapabilities() (string, error)
}

type capabilitiesXML struct {
	XMLName xml.Name `xml:"capabilities"`
	Host    struct {
		Topology struct {
			Cells struct {
				Cells []cellXML `xml:"cell"`
			} `xml:"cells"`
		} `xml:"topology"`
	} `xml:"host"`
}

type cellXML struct {
	ID   int `xml:"id,attr"`
	CPUs struct {
		CPUs []struct {
			ID int `xml:"id,attr"`
		} `xml:"cpu"`
	} `xml:"cpus"`
}

// TopologySource builds the NUMA layout from the host capabilities that
// libvirtd reports.
type TopologySource struct {
	client CapabilitiesReader
}

func NewTopologySource(client CapabilitiesReader) *TopologySource {
	return &TopologySource{client: client}
}

func (s *TopologySource) Topology(ctx context.Context) (model.Topology, error) {
	if err := ctx.Err(); err != nil {
		return model.Topology{}, err
	}
	raw, err := s.client.ConnectGetCapabilities()
	if err != nil {
		return model.Topology{}, fmt.Errorf("ConnectGetCapabilities: %w", err)
	}
	return ParseCapabilitiesTopology([]byte(raw))
}

func ParseCapabilitiesTopology(raw []byte) (model.Topology, error) {
	var caps capabilitiesXML
	if err := xml.Unmarshal(raw, &caps); err != nil {
		return model.Topology{}, fmt.Errorf("decode capabilities xml: %w", err)
	}
	cells := caps.Host.Topology.Cells.Cells
	if len(cells) == 0 {
		return model.Topology{}, fmt.Errorf("capabilities xml has no host topology cells")
	}

	topo := model.Topology{Nodes: make([]model.NUMANode, 0, len(cells))}
	for _, cell := range cells {
		cpus := make([]int, 0, len(cell.CPUs.CPUs))
		for _, cpu := range cell.CPUs.CPUs {
			cpus = append(cpus, cpu.ID)
		}
		sort.Ints(cpus)
		topo.Nodes = append(topo.Nodes, model.NUMANode{ID: cell.ID, CPUs: cpus})
	}
	sort.Slice(topo.Nodes, func(i, j int) bool {
		return topo.Nodes[i].ID < topo.Nodes[j].ID
	})
	return topo, nil
}
