package model

import "sort"

// NUMANode groups the logical CPUs local to one memory node.
type NUMANode struct {
	ID   int   `json:"id"`
	CPUs []int `json:"cpus"`
}

// Topology is the host NUMA layout. Nodes may be listed in any order.
type Topology struct {
	Nodes []NUMANode `json:"nodes"`
}

// CoreOrder flattens the topology into the pinning order: nodes ascending
// by id, CPUs ascending within each node.
func (t Topology) CoreOrder() []int {
	nodes := append([]NUMANode(nil), t.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})

	out := make([]int, 0, t.CPUCount())
	for _, n := range nodes {
		cpus := append([]int(nil), n.CPUs...)
		sort.Ints(cpus)
		out = append(out, cpus...)
	}
	return out
}

func (t Topology) CPUCount() int {
	total := 0
	for _, n := range t.Nodes {
		total += len(n.CPUs)
	}
	return total
}
