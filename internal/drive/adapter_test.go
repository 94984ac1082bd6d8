package drive_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/bundle"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/cia402"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/drive"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/errcat"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
)

// fakeMaster is a minimal in-memory iobus.Master for adapter-level tests;
// it is not the simulated master used by the pipeline/CLI (see
// internal/iobus/sim.go) but a narrower double scoped to this package.
type fakeMaster struct {
	statusWord uint16
	errorCode  uint32
	modeFb     int8

	writtenControlWord uint16
	writtenModeCmd     int8
}

func (m *fakeMaster) Scan(ctx context.Context) ([]iobus.DiscoveredDrive, error) {
	return nil, nil
}

func (m *fakeMaster) SDORead(ctx context.Context, addr iobus.Addr, index uint16, subindex uint8, dtype bundle.DataType) (any, error) {
	return nil, nil
}

func (m *fakeMaster) SDOWrite(ctx context.Context, addr iobus.Addr, index uint16, subindex uint8, dtype bundle.DataType, value any) error {
	return nil
}

func (m *fakeMaster) PDORead(ctx context.Context, addr iobus.Addr, key string) (any, error) {
	switch key {
	case drive.KeyStatusWord:
		return m.statusWord, nil
	case drive.KeyErrorCode:
		return m.errorCode, nil
	case drive.KeyModeFb:
		return m.modeFb, nil
	}
	return nil, nil
}

func (m *fakeMaster) PDOWrite(ctx context.Context, addr iobus.Addr, key string, value any) error {
	switch key {
	case drive.KeyControlWord:
		m.writtenControlWord = value.(uint16)
	case drive.KeyModeCmd:
		m.writtenModeCmd = value.(int8)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(t *testing.T, master iobus.Master) *drive.Adapter {
	t.Helper()
	catalog := errcat.NewRegistry(func(modelID string) (map[uint32]errcat.Entry, error) {
		return map[uint32]errcat.Entry{
			0x7305: {Code: 0x7305, Description: "Overcurrent", Advice: "Check wiring"},
		}, nil
	})
	addr := drive.Address{Bus: 0, Alias: 1, Position: 2}
	model := drive.Model{ID: "x-series", Profile: drive.Profile{Modes: []drive.Mode{drive.ModeCyclicSyncPosition}}}
	return drive.New(addr, model, master, catalog, testLogger())
}

func TestReadPopulatesFeedbackIn(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0040, errorCode: 0, modeFb: 8}
	a := newTestAdapter(t, m)

	require.NoError(t, a.Read(context.Background()))

	assert.Equal(t, uint16(0x0040), a.FeedbackIn.Get(drive.KeyStatusWord))
	assert.Equal(t, uint32(0), a.FeedbackIn.Get(drive.KeyErrorCode))
	assert.Equal(t, int8(8), a.FeedbackIn.Get(drive.KeyModeFb))
}

func TestGetFeedbackDecodesStateAndGoal(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0023} // SWITCHED ON
	a := newTestAdapter(t, m)
	require.NoError(t, a.Read(context.Background()))

	a.SetCommand(cia402.SwitchedOn, 0, false)
	a.GetFeedback()

	assert.Equal(t, "SWITCHED ON", a.FeedbackOut.Get(drive.KeyState))
	assert.True(t, a.FeedbackOut.Get(drive.KeyGoalReached).(bool))
	assert.Equal(t, "", a.FeedbackOut.Get(drive.KeyGoalReason))
	assert.False(t, a.FeedbackOut.Get(drive.KeyFault).(bool))
}

func TestGetFeedbackReportsWaitingReason(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0040} // SWITCH ON DISABLED
	a := newTestAdapter(t, m)
	require.NoError(t, a.Read(context.Background()))

	a.SetCommand(cia402.OperationEnabled, 0, false)
	a.GetFeedback()

	assert.False(t, a.FeedbackOut.Get(drive.KeyGoalReached).(bool))
	assert.Equal(t, "Waiting: at SWITCH ON DISABLED, target OPERATION ENABLED", a.FeedbackOut.Get(drive.KeyGoalReason))
}

func TestGetFeedbackKnownErrorCodeIsAFault(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0023, errorCode: 0x7305}
	a := newTestAdapter(t, m)
	require.NoError(t, a.Read(context.Background()))

	a.SetCommand(cia402.SwitchedOn, 0, false)
	a.GetFeedback()

	assert.True(t, a.FeedbackOut.Get(drive.KeyFault).(bool))
	assert.Equal(t, "Overcurrent (b0a1p2)", a.FeedbackOut.Get(drive.KeyFaultDesc))
	assert.Equal(t, "Overcurrent", a.FeedbackOut.Get(drive.KeyDescription))
	assert.Equal(t, "Check wiring", a.FeedbackOut.Get(drive.KeyAdvice))
}

func TestGetFeedbackUnknownErrorCodeSynthesized(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0023, errorCode: 0xDEAD}
	a := newTestAdapter(t, m)
	require.NoError(t, a.Read(context.Background()))
	a.SetCommand(cia402.SwitchedOn, 0, false)
	a.GetFeedback()

	assert.True(t, a.FeedbackOut.Get(drive.KeyFault).(bool))
	assert.Equal(t, "Unknown error code 57005", a.FeedbackOut.Get(drive.KeyDescription))
}

func TestGetFeedbackFaultStateWithoutErrorCode(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0008} // FAULT, no error code
	a := newTestAdapter(t, m)
	require.NoError(t, a.Read(context.Background()))
	a.SetCommand(cia402.SwitchOnDisabled, 0, true)
	a.GetFeedback()

	assert.True(t, a.FeedbackOut.Get(drive.KeyFault).(bool))
	assert.Equal(t, "FAULT (b0a1p2)", a.FeedbackOut.Get(drive.KeyFaultDesc))
}

func TestSetCommandThenWritePushesControlWord(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0040}
	a := newTestAdapter(t, m)
	require.NoError(t, a.Read(context.Background()))
	a.GetFeedback()

	a.SetCommand(cia402.SwitchedOn, 3, false)
	require.NoError(t, a.Write(context.Background()))

	assert.Equal(t, uint16(0x0007), m.writtenControlWord)
	assert.Equal(t, int8(3), m.writtenModeCmd)
}

func TestAdvanceRollsAllFourBundles(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0040}
	a := newTestAdapter(t, m)
	require.NoError(t, a.Read(context.Background()))
	a.GetFeedback()
	a.SetCommand(cia402.SwitchOnDisabled, 0, false)
	require.NoError(t, a.Write(context.Background()))

	a.Advance()

	assert.False(t, a.FeedbackIn.Changed(drive.KeyStatusWord))
	assert.False(t, a.FeedbackOut.Changed(drive.KeyState))
	assert.False(t, a.CommandOut.Changed(drive.KeyControlWord))
}

func TestInovanceQuirkMasksHomeFoundBit(t *testing.T) {
	m := &fakeMaster{statusWord: 0x0023 | (1 << 15)}
	catalog := errcat.NewRegistry(func(modelID string) (map[uint32]errcat.Entry, error) {
		return map[uint32]errcat.Entry{}, nil
	})
	addr := drive.Address{Bus: 0, Alias: 1, Position: 2}
	model := drive.Model{ID: "inovance-is620", Quirk: drive.InovanceHomeFoundQuirk}
	a := drive.New(addr, model, m, catalog, testLogger())

	require.NoError(t, a.Read(context.Background()))
	a.SetCommand(cia402.SwitchedOn, 0, false)
	a.GetFeedback()

	assert.Equal(t, "SWITCHED ON", a.FeedbackOut.Get(drive.KeyState))
}

func TestAddressSlug(t *testing.T) {
	a := drive.Address{Bus: 2, Alias: 5, Position: 7}
	assert.Equal(t, "b2a5p7", a.Slug())
}
