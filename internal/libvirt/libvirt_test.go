package libvirt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/require"

	"aurora-vcpu-pin/internal/model"
	"aurora-vcpu-pin/internal/qmp"
)

type fakeMonitor struct {
	lookupErr error
	reply     string
	replyErr  error
	commands  []string
}

func (f *fakeMonitor) DomainLookupByName(name string) (golibvirt.Domain, error) {
	if f.lookupErr != nil {
		return golibvirt.Domain{}, f.lookupErr
	}
	return golibvirt.Domain{Name: name, ID: 7}, nil
}

func (f *fakeMonitor) QEMUDomainMonitorCommand(dom golibvirt.Domain, cmd string, flags uint32) (string, error) {
	f.commands = append(f.commands, cmd)
	return f.reply, f.replyErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVCPUSourceQueryVCPUs(t *testing.T) {
	mon := &fakeMonitor{
		reply: `{"return":[{"cpu-index":1,"thread-id":222,"target":"x86_64"},{"cpu-index":0,"thread-id":111,"target":"x86_64"}],"id":"libvirt-20"}`,
	}
	src := NewVCPUSource(mon, "guest01", discardLogger())

	vcpus, err := src.QueryVCPUs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{111, 222}, model.ThreadIDs(vcpus))
	require.Equal(t, []string{`{"execute":"query-cpus-fast"}`}, mon.commands)
}

func TestVCPUSourceLookupError(t *testing.T) {
	src := NewVCPUSource(&fakeMonitor{lookupErr: errors.New("rpc broken")}, "guest01", discardLogger())

	_, err := src.QueryVCPUs(context.Background())
	require.ErrorContains(t, err, "lookup domain guest01: rpc broken")
}

func TestVCPUSourceQMPError(t *testing.T) {
	mon := &fakeMonitor{reply: `{"error":{"class":"CommandNotFound","desc":"The command query-cpus-fast has not been found"},"id":"libvirt-3"}`}
	src := NewVCPUSource(mon, "guest01", discardLogger())

	_, err := src.QueryVCPUs(context.Background())
	var cmdErr *qmp.CommandError
	require.True(t, errors.As(err, &cmdErr))
	require.Equal(t, qmp.ErrorClassCommandNotFound, cmdErr.Class)
}

func TestVCPUSourceMonitorError(t *testing.T) {
	src := NewVCPUSource(&fakeMonitor{replyErr: errors.New("domain is not running")}, "guest01", discardLogger())

	_, err := src.QueryVCPUs(context.Background())
	require.ErrorContains(t, err, "monitor command on guest01: domain is not running")
}

func TestVCPUSourceCanceledContext(t *testing.T) {
	mon := &fakeMonitor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewVCPUSource(mon, "guest01", discardLogger()).QueryVCPUs(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, mon.commands)
}

const twoCellCapabilities = `<capabilities>
  <host>
    <uuid>4c4c4544-0042-3510-8053-b7c04f504432</uuid>
    <cpu>
      <arch>x86_64</arch>
      <topology sockets='1' dies='1' cores='2' threads='1'/>
    </cpu>
    <topology>
      <cells num='2'>
        <cell id='1'>
          <memory unit='KiB'>16384000</memory>
          <cpus num='2'>
            <cpu id='3' socket_id='1' die_id='0' core_id='1' siblings='3'/>
            <cpu id='1' socket_id='1' die_id='0' core_id='0' siblings='1'/>
          </cpus>
        </cell>
        <cell id='0'>
          <memory unit='KiB'>16384000</memory>
          <cpus num='2'>
            <cpu id='2' socket_id='0' die_id='0' core_id='1' siblings='2'/>
            <cpu id='0' socket_id='0' die_id='0' core_id='0' siblings='0'/>
          </cpus>
        </cell>
      </cells>
    </topology>
  </host>
</capabilities>`

type fakeCaps struct {
	xml string
	err error
}

func (f fakeCaps) ConnectGetCapabilities() (string, error) {
	return f.xml, f.err
}

func TestTopologySource(t *testing.T) {
	topo, err := NewTopologySource(fakeCaps{xml: twoCellCapabilities}).Topology(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.Topology{Nodes: []model.NUMANode{
		{ID: 0, CPUs: []int{0, 2}},
		{ID: 1, CPUs: []int{1, 3}},
	}}, topo)
	require.Equal(t, []int{0, 2, 1, 3}, topo.CoreOrder())
}

func TestTopologySourceErrors(t *testing.T) {
	_, err := NewTopologySource(fakeCaps{err: errors.New("denied")}).Topology(context.Background())
	require.ErrorContains(t, err, "ConnectGetCapabilities: denied")

	_, err = ParseCapabilitiesTopology([]byte(`<capabilities><host></host></capabilities>`))
	require.ErrorContains(t, err, "no host topology cells")

	_, err = ParseCapabilitiesTopology([]byte(`<capabilities>`))
	require.ErrorContains(t, err, "decode capabilities xml")
}

func TestParseURI(t *testing.T) {
	uri, err := parseURI("")
	require.NoError(t, err)
	require.Equal(t, string(golibvirt.QEMUSystem), uri.String())

	uri, err = parseURI("qemu+ssh://root@hv01/system")
	require.NoError(t, err)
	require.Equal(t, "qemu+ssh", uri.Scheme)
	require.Equal(t, "hv01", uri.Hostname())

	uri, err = parseURI("no-scheme")
	require.NoError(t, err)
	require.Equal(t, string(golibvirt.QEMUSystem), uri.String())
}

func TestConnManagerCloseWithoutClient(t *testing.T) {
	require.NoError(t, NewConnManager("qemu:///system", discardLogger()).Close())
}

func TestConnManagerClientCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewConnManager("qemu:///system", discardLogger()).Client(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
