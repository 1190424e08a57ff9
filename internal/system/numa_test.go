package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"aurora-vcpu-pin/internal/model"
)

func writeSysfs(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestSysfsTopologyTwoNodes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/node/online":        "0-1\n",
		"devices/system/node/node0/cpulist": "0,2\n",
		"devices/system/node/node1/cpulist": "1,3\n",
	})

	topo, err := NewSysfsTopology(root).Topology(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.Topology{Nodes: []model.NUMANode{
		{ID: 0, CPUs: []int{0, 2}},
		{ID: 1, CPUs: []int{1, 3}},
	}}, topo)
	require.Equal(t, []int{0, 2, 1, 3}, topo.CoreOrder())
}

func TestSysfsTopologyRanges(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/node/online":        "0-1",
		"devices/system/node/node0/cpulist": "0-3,8-11",
		"devices/system/node/node1/cpulist": "4-7,12-15",
	})

	topo, err := NewSysfsTopology(root).Topology(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 8, 9, 10, 11, 4, 5, 6, 7, 12, 13, 14, 15}, topo.CoreOrder())
}

func TestSysfsTopologySparseNodes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/node/online":        "0,2",
		"devices/system/node/node0/cpulist": "0-1",
		"devices/system/node/node2/cpulist": "2-3",
	})

	topo, err := NewSysfsTopology(root).Topology(context.Background())
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 3)
	require.Empty(t, topo.Nodes[1].CPUs)
	require.Equal(t, []int{0, 1, 2, 3}, topo.CoreOrder())
}

func TestSysfsTopologyScansNodeDirsWithoutOnlineFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/node/node1/cpulist": "1",
		"devices/system/node/node0/cpulist": "0",
		"devices/system/node/has_cpu":       "0-1",
	})

	topo, err := NewSysfsTopology(root).Topology(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, topo.CoreOrder())
}

func TestSysfsTopologyNonNUMAFallsBackToOnlineCPUs(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/cpu/online": "0-3\n",
	})

	topo, err := NewSysfsTopology(root).Topology(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.Topology{Nodes: []model.NUMANode{{ID: 0, CPUs: []int{0, 1, 2, 3}}}}, topo)
}

func TestSysfsTopologyMalformedCPUList(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/node/online":        "0",
		"devices/system/node/node0/cpulist": "zero-three",
	})

	_, err := NewSysfsTopology(root).Topology(context.Background())
	require.ErrorContains(t, err, "parse ")
}

func TestSysfsTopologyMissingTree(t *testing.T) {
	t.Parallel()
	_, err := NewSysfsTopology(t.TempDir()).Topology(context.Background())
	require.Error(t, err)
}

func TestNewSysfsTopologyDefaultsRoot(t *testing.T) {
	require.Equal(t, "/sys", NewSysfsTopology("").Root)
}
