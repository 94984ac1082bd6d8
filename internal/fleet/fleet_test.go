package fleet

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/drive"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/errcat"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *errcat.Registry {
	return errcat.NewRegistry(func(modelID string) (map[uint32]errcat.Entry, error) {
		return map[uint32]errcat.Entry{
			0x7305: {Code: 0x7305, Description: "Overcurrent", Advice: "Check wiring"},
		}, nil
	})
}

func newTestFleet(t *testing.T, n int) (*Fleet, *iobus.Sim, []drive.Address) {
	t.Helper()

	specs := make([]iobus.SimDeviceSpec, n)
	addrs := make([]drive.Address, n)
	for i := 0; i < n; i++ {
		addrs[i] = drive.Address{Bus: 0, Alias: 0, Position: uint16(i)}
		specs[i] = iobus.SimDeviceSpec{ModelID: "test-model", Bus: 0, Alias: 0, Position: uint16(i)}
	}
	sim := iobus.NewSim(specs)

	model := drive.Model{ID: "test-model", Profile: drive.Profile{Modes: []drive.Mode{drive.ModeCyclicSyncPosition}}}
	registry := testRegistry()

	adapters := make([]*drive.Adapter, n)
	for i, a := range addrs {
		adapters[i] = drive.New(a, model, sim, registry, testLogger())
	}

	f := New(DefaultConfig(), adapters, testLogger())
	return f, sim, addrs
}

func tick(t *testing.T, f *Fleet, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		f.Tick(ctx)
	}
}

// A cold boot with no operator command settles both drives at
// SWITCH ON DISABLED and completes an implicit stop within a handful of
// ticks, matching spec.md §8's cold-init scenario in shape (the exact
// tick numbering in that prose is illustrative, not reproduced bit for
// bit here -- see DESIGN.md).
func TestColdInitSettlesToStopComplete(t *testing.T) {
	f, _, _ := newTestFleet(t, 2)

	tick(t, f, 3)

	require.Equal(t, StopComplete, f.SubState())
	require.True(t, f.FeedbackOut.Get(KeyCommandComplete).(bool))
	require.False(t, f.FeedbackOut.Get(KeyFault).(bool))
}

// Starting from stop_complete, a START command drives the canonical
// combined control words toward OPERATION ENABLED one hop per tick.
func TestStartSequenceEmitsCanonicalControlWords(t *testing.T) {
	f, _, _ := newTestFleet(t, 2)
	tick(t, f, 3) // settle to stop_complete first

	f.IssueCommand(TagStart)
	tick(t, f, 1)
	require.Equal(t, Start1, f.SubState())

	tick(t, f, 1)
	require.Equal(t, Start2, f.SubState())

	tick(t, f, 1)
	require.Equal(t, StartComplete, f.SubState())
	require.True(t, f.FeedbackOut.Get(KeyCommandComplete).(bool))

	tick(t, f, 1)
	require.True(t, f.FeedbackOut.Get(KeyEnabled).(bool))
}

// A command issued while waiting for devices online during init is
// squelched (spec.md §4.5 accept-command guard).
func TestStartCommandSquelchedDuringInit(t *testing.T) {
	f, _, _ := newTestFleet(t, 2)

	f.IssueCommand(TagStart)
	tick(t, f, 1)

	require.Equal(t, Init1, f.SubState())
}

// A fault observed mid-operation is latched immediately, the aggregate
// fault_desc names the affected drive, and it stays sticky while the
// fault is being handled.
func TestMidOperationFaultIsLatchedAndSticky(t *testing.T) {
	f, sim, addrs := newTestFleet(t, 2)
	tick(t, f, 3) // stop_complete
	f.IssueCommand(TagStart)
	tick(t, f, 3) // start_complete
	tick(t, f, 1) // enabled

	addr0 := iobus.Addr{Bus: addrs[0].Bus, Alias: addrs[0].Alias, Position: addrs[0].Position}
	require.NoError(t, sim.InjectFault(addr0, 0x7305))

	tick(t, f, 1)
	require.Equal(t, Fault1, f.SubState())
	require.True(t, f.FeedbackOut.Get(KeyFault).(bool))
	require.Contains(t, f.FeedbackOut.Get(KeyFaultDesc).(string), "Overcurrent")
	require.False(t, f.FeedbackOut.Get(KeyEnabled).(bool))

	descAtEntry := f.FeedbackOut.Get(KeyFaultDesc).(string)
	tick(t, f, 1)
	require.Equal(t, descAtEntry, f.FeedbackOut.Get(KeyFaultDesc).(string))
}

// Recovering from a fault via an external STOP command asserts
// fault-reset and eventually reaches stop_complete once every drive is
// back at SWITCH ON DISABLED.
func TestFaultRecoveryReachesStopComplete(t *testing.T) {
	f, sim, addrs := newTestFleet(t, 2)
	tick(t, f, 3)
	f.IssueCommand(TagStart)
	tick(t, f, 4)

	addr0 := iobus.Addr{Bus: addrs[0].Bus, Alias: addrs[0].Alias, Position: addrs[0].Position}
	require.NoError(t, sim.InjectFault(addr0, 0x7305))
	tick(t, f, 1)
	require.Equal(t, Fault1, f.SubState())

	sim.ClearFault(addr0)
	f.IssueCommand(TagStop)
	tick(t, f, 1)
	require.Equal(t, Stop1, f.SubState())
	require.True(t, f.FeedbackOut.Get(KeyReset).(bool))

	tick(t, f, 5)
	require.Equal(t, StopComplete, f.SubState())
	require.False(t, f.FeedbackOut.Get(KeyFault).(bool))
}

// An unknown error code still produces a synthesized, non-empty
// description rather than an empty fault_desc.
func TestUnknownErrorCodeStillProducesFaultDesc(t *testing.T) {
	f, sim, addrs := newTestFleet(t, 2)
	tick(t, f, 3)

	addr0 := iobus.Addr{Bus: addrs[0].Bus, Alias: addrs[0].Alias, Position: addrs[0].Position}
	require.NoError(t, sim.InjectFault(addr0, 0x9999))

	tick(t, f, 1)
	require.True(t, f.FeedbackOut.Get(KeyFault).(bool))
	require.Contains(t, f.FeedbackOut.Get(KeyFaultDesc).(string), "Unknown error code")
}

// A fault_1 whose drives never reach SWITCH ON DISABLED completes to
// fault_complete once GoalStateTimeout elapses.
func TestGoalTimeoutCompletesFault1(t *testing.T) {
	f, sim, addrs := newTestFleet(t, 1)

	tick(t, f, 3) // stop_complete

	addr0 := iobus.Addr{Bus: addrs[0].Bus, Alias: addrs[0].Alias, Position: addrs[0].Position}
	require.NoError(t, sim.InjectFault(addr0, 0x7305))
	tick(t, f, 1)
	require.Equal(t, Fault1, f.SubState())

	// The injected fault is never cleared and no recovery command is
	// issued, so fault_1's own goal guard can never pass; only
	// checkTimeout's fault_1 branch can resolve it. At 10Hz,
	// GoalStateTimeout's default 10s is 100 ticks.
	f.sub = Fault1
	f.subEnteredTick = f.tick
	f.pendingTag = TagFault

	tick(t, f, 101)
	require.Equal(t, FaultComplete, f.SubState())
	require.True(t, f.FeedbackOut.Get(KeyCommandComplete).(bool))
}

// A goal that simply never arrives (no fault involved) still escalates
// to fault_1 once GoalStateTimeout elapses, and the resulting state_log
// names the specific drive(s) still waiting (spec.md §7 error-kind 3,
// §8 scenario S5 "mentioning drive B").
func TestGoalTimeoutReasonNamesStalledDrives(t *testing.T) {
	f, _, addrs := newTestFleet(t, 2)
	tick(t, f, 3) // stop_complete

	f.IssueCommand(TagStart)
	tick(t, f, 1)
	require.Equal(t, Start1, f.SubState())

	// Back-date entry into start_1 so checkTimeout sees the goal timeout
	// budget as already elapsed, without ever faulting a drive.
	budgetTicks := uint64(f.cfg.timeoutFor(Start1).Seconds() * f.cfg.UpdateRate)
	f.subEnteredTick = f.tick - budgetTicks - 1

	waiting := []string{addrs[0].Slug(), addrs[1].Slug()}
	f.checkTimeout(waiting)

	require.Equal(t, Fault1, f.SubState())
	stateLog := f.FeedbackOut.Get(KeyStateLog).(string)
	require.Contains(t, stateLog, "timeout waiting on 2 devices")
	require.Contains(t, stateLog, addrs[1].Slug())
}

func TestBundleDeclaresPerDrivePrefixedAttributes(t *testing.T) {
	f, _, addrs := newTestFleet(t, 1)
	slug := addrs[0].Slug()

	for _, key := range []string{
		drive.KeyStatusWord, drive.KeyControlWord, drive.KeyErrorCode,
		drive.KeyDescription, drive.KeyAdvice, drive.KeyFault,
		drive.KeyFaultDesc, drive.KeyGoalReached, drive.KeyGoalReason,
	} {
		require.NotPanics(t, func() {
			f.FeedbackOut.Get("d" + slug + "_" + key)
		})
	}
}
