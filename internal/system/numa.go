package system

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"

	"aurora-vcpu-pin/internal/model"
)

// SysfsTopology reads the NUMA layout from a sysfs tree mounted at Root.
type SysfsTopology struct {
	Root string
}

func NewSysfsTopology(root string) *SysfsTopology {
	if strings.TrimSpace(root) == "" {
		root = "/sys"
	}
	return &SysfsTopology{Root: root}
}

// Topology walks nodes 0..max and reads each node's cpulist. Nodes without
// a directory contribute no CPUs. Kernels built without NUMA support have
// no node directory at all; every online CPU is then reported as node 0.
func (s *SysfsTopology) Topology(_ context.Context) (model.Topology, error) {
	nodeDir := filepath.Join(s.Root, "devices", "system", "node")
	if _, err := os.Stat(nodeDir); errors.Is(err, fs.ErrNotExist) {
		return s.flatTopology()
	} else if err != nil {
		return model.Topology{}, fmt.Errorf("stat %s: %w", nodeDir, err)
	}

	maxNode, err := s.maxNode(nodeDir)
	if err != nil {
		return model.Topology{}, err
	}
	if maxNode < 0 {
		return s.flatTopology()
	}

	topo := model.Topology{Nodes: make([]model.NUMANode, 0, maxNode+1)}
	for id := 0; id <= maxNode; id++ {
		path := filepath.Join(nodeDir, "node"+strconv.Itoa(id), "cpulist")
		cpus, err := readCPUList(path)
		if errors.Is(err, fs.ErrNotExist) {
			topo.Nodes = append(topo.Nodes, model.NUMANode{ID: id, CPUs: []int{}})
			continue
		}
		if err != nil {
			return model.Topology{}, err
		}
		topo.Nodes = append(topo.Nodes, model.NUMANode{ID: id, CPUs: cpus.List()})
	}
	return topo, nil
}

// maxNode prefers the kernel's online node mask and falls back to scanning
// nodeN directories. It returns -1 when no node is found.
func (s *SysfsTopology) maxNode(nodeDir string) (int, error) {
	online, err := readCPUList(filepath.Join(nodeDir, "online"))
	switch {
	case err == nil && !online.IsEmpty():
		ids := online.List()
		return ids[len(ids)-1], nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return 0, err
	}

	entries, err := os.ReadDir(nodeDir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", nodeDir, err)
	}
	maxID := -1
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, "node") {
			continue
		}
		id, convErr := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if convErr != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

func (s *SysfsTopology) flatTopology() (model.Topology, error) {
	cpus, err := readCPUList(filepath.Join(s.Root, "devices", "system", "cpu", "online"))
	if err != nil {
		return model.Topology{}, err
	}
	return model.Topology{Nodes: []model.NUMANode{{ID: 0, CPUs: cpus.List()}}}, nil
}

func readCPUList(path string) (cpuset.CPUSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cpuset.CPUSet{}, fmt.Errorf("read %s: %w", path, err)
	}
	set, err := cpuset.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return cpuset.CPUSet{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return set, nil
}
