package iobus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/cia402"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
)

func newTestSim() (*iobus.Sim, iobus.Addr) {
	addr := iobus.Addr{Bus: 0, Alias: 1, Position: 1}
	sim := iobus.NewSim([]iobus.SimDeviceSpec{
		{ModelID: "x-series", Bus: 0, Alias: 1, Position: 1},
	})
	return sim, addr
}

func readStatusWord(t *testing.T, sim *iobus.Sim, addr iobus.Addr) uint16 {
	t.Helper()
	v, err := sim.PDORead(context.Background(), addr, "status_word")
	require.NoError(t, err)
	return v.(uint16)
}

func TestSimStartsAtSwitchOnDisabled(t *testing.T) {
	sim, addr := newTestSim()
	sw := readStatusWord(t, sim, addr)
	assert.Equal(t, cia402.SwitchOnDisabled, cia402.DecodeState(sw))
}

func TestSimAdvancesTowardCommandedState(t *testing.T) {
	sim, addr := newTestSim()
	ctx := context.Background()

	require.NoError(t, sim.PDOWrite(ctx, addr, "control_word", uint16(0x0007)))
	sw := readStatusWord(t, sim, addr)
	assert.Equal(t, cia402.SwitchedOn, cia402.DecodeState(sw))

	require.NoError(t, sim.PDOWrite(ctx, addr, "control_word", uint16(0x000F)))
	sw = readStatusWord(t, sim, addr)
	assert.Equal(t, cia402.OperationEnabled, cia402.DecodeState(sw))
}

func TestSimInjectedFaultReportsErrorCode(t *testing.T) {
	sim, addr := newTestSim()
	ctx := context.Background()

	require.NoError(t, sim.InjectFault(addr, 0x7305))
	sw := readStatusWord(t, sim, addr)
	assert.Equal(t, cia402.Fault, cia402.DecodeState(sw))

	ec, err := sim.PDORead(ctx, addr, "error_code")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7305), ec.(uint32))
}

func TestSimFaultResetReturnsToSwitchOnDisabled(t *testing.T) {
	sim, addr := newTestSim()
	ctx := context.Background()
	require.NoError(t, sim.InjectFault(addr, 0x7305))
	_ = readStatusWord(t, sim, addr)

	sim.ClearFault(addr)
	require.NoError(t, sim.PDOWrite(ctx, addr, "control_word", cia402.CWFaultReset))
	sw := readStatusWord(t, sim, addr)
	assert.Equal(t, cia402.SwitchOnDisabled, cia402.DecodeState(sw))
}

func TestSimScanReturnsConfiguredDrives(t *testing.T) {
	sim, addr := newTestSim()
	drives, err := sim.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, drives, 1)
	assert.Equal(t, addr.Bus, drives[0].Bus)
	assert.Equal(t, addr.Alias, drives[0].Alias)
}

func TestSimReadUnknownAddrErrors(t *testing.T) {
	sim, _ := newTestSim()
	_, err := sim.PDORead(context.Background(), iobus.Addr{Bus: 9, Alias: 9, Position: 9}, "status_word")
	assert.Error(t, err)
}
