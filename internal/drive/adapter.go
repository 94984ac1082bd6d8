// Package drive binds the pure cia402 state machine to a concrete drive on
// the bus, generalizing the teacher's single-Dynamixel Controller/Driver
// split (dxl/controller.go, dxl/driver.go) to one CiA-402 servo per
// discovered Address.
package drive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/bundle"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/cia402"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/errcat"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
)

// Bundle attribute keys, shared across every drive's four bundles.
const (
	KeyStatusWord  = "status_word"
	KeyErrorCode   = "error_code"
	KeyModeFb      = "mode_fb"
	KeyState       = "state"
	KeyOperational = "operational"
	KeyGoalReached = "goal_reached"
	KeyGoalReason  = "goal_reason"
	KeyFault       = "fault"
	KeyFaultDesc   = "fault_desc"
	KeyDescription = "description"
	KeyAdvice      = "advice"
	KeyControlWord = "control_word"
	KeyTargetState = "target_state"
	KeyModeCmd     = "mode_cmd"
	KeyReset       = "reset"
)

// Adapter is one instance per physical drive. It owns its four interface
// bundles exclusively (spec.md §3 Ownership). Read and Write return I/O
// errors to the caller; the adapter does not turn them into a drive-level
// fault. internal/fleet treats such an error as an unexpected exception
// and enters fault_1.
type Adapter struct {
	Addr  Address
	Model Model

	master  iobus.Master
	catalog *errcat.Registry
	log     *slog.Logger

	FeedbackIn  *bundle.Bundle
	FeedbackOut *bundle.Bundle
	CommandIn   *bundle.Bundle
	CommandOut  *bundle.Bundle

	lastState cia402.State
	hadError  bool
}

// New constructs an Adapter and declares its four bundles. catalog is the
// process-wide error catalog registry shared by every adapter of the same
// model (spec.md §3 Ownership).
func New(addr Address, model Model, master iobus.Master, catalog *errcat.Registry, log *slog.Logger) *Adapter {
	a := &Adapter{
		Addr:      addr,
		Model:     model,
		master:    master,
		catalog:   catalog,
		log:       log.With("drive", model.ID, "addr_slug", addr.Slug()),
		lastState: cia402.NotReadyToSwitchOn,
	}

	a.FeedbackIn = bundle.New("feedback_in:" + addr.Slug())
	a.FeedbackIn.Declare(KeyStatusWord, uint16(0), bundle.Uint16)
	a.FeedbackIn.Declare(KeyErrorCode, uint32(0), bundle.Uint32)
	a.FeedbackIn.Declare(KeyModeFb, int8(0), bundle.Int8)

	a.FeedbackOut = bundle.New("feedback_out:" + addr.Slug())
	a.FeedbackOut.Declare(KeyStatusWord, uint16(0), bundle.Uint16)
	a.FeedbackOut.Declare(KeyErrorCode, uint32(0), bundle.Uint32)
	a.FeedbackOut.Declare(KeyState, cia402.NotReadyToSwitchOn.String(), bundle.Str)
	a.FeedbackOut.Declare(KeyOperational, false, bundle.Bit)
	a.FeedbackOut.Declare(KeyGoalReached, false, bundle.Bit)
	a.FeedbackOut.Declare(KeyGoalReason, "", bundle.Str)
	a.FeedbackOut.Declare(KeyFault, false, bundle.Bit)
	a.FeedbackOut.Declare(KeyFaultDesc, "", bundle.Str)
	a.FeedbackOut.Declare(KeyDescription, "", bundle.Str)
	a.FeedbackOut.Declare(KeyAdvice, "", bundle.Str)
	a.FeedbackOut.Declare(KeyModeFb, int8(0), bundle.Int8)

	a.CommandIn = bundle.New("command_in:" + addr.Slug())
	a.CommandIn.Declare(KeyTargetState, cia402.SwitchOnDisabled.String(), bundle.Str)
	a.CommandIn.Declare(KeyModeCmd, int8(0), bundle.Int8)
	a.CommandIn.Declare(KeyReset, false, bundle.Bit)

	a.CommandOut = bundle.New("command_out:" + addr.Slug())
	a.CommandOut.Declare(KeyControlWord, uint16(0), bundle.Uint16)
	a.CommandOut.Declare(KeyState, cia402.SwitchOnDisabled.String(), bundle.Str)
	a.CommandOut.Declare(KeyModeCmd, int8(0), bundle.Int8)

	return a
}

// Read pulls status_word, error_code and mode feedback from the external
// master into feedback_in. Must not block longer than one tick budget;
// callers are expected to derive ctx from the pipeline's tick deadline.
func (a *Adapter) Read(ctx context.Context) error {
	addr := iobus.Addr{Bus: a.Addr.Bus, Alias: a.Addr.Alias, Position: a.Addr.Position}

	sw, err := a.master.PDORead(ctx, addr, KeyStatusWord)
	if err != nil {
		return fmt.Errorf("drive %s: read status_word: %w", a.Addr.Slug(), err)
	}
	ec, err := a.master.PDORead(ctx, addr, KeyErrorCode)
	if err != nil {
		return fmt.Errorf("drive %s: read error_code: %w", a.Addr.Slug(), err)
	}
	mf, err := a.master.PDORead(ctx, addr, KeyModeFb)
	if err != nil {
		return fmt.Errorf("drive %s: read mode_fb: %w", a.Addr.Slug(), err)
	}

	a.FeedbackIn.Update(map[string]any{
		KeyStatusWord: sw.(uint16),
		KeyErrorCode:  ec.(uint32),
		KeyModeFb:     mf.(int8),
	})
	return nil
}

// GetFeedback derives drive-level feedback from the last read()'s raw
// status word and error code, per spec.md §4.4.
func (a *Adapter) GetFeedback() {
	raw := a.Model.applyQuirk(a.FeedbackIn.Get(KeyStatusWord).(uint16))
	state := cia402.DecodeState(raw)
	errorCode := a.FeedbackIn.Get(KeyErrorCode).(uint32)
	oldErrorCode, _ := a.FeedbackIn.GetOld(KeyErrorCode).(uint32)

	var entry errcat.Entry
	if errorCode != 0 {
		entry = a.catalog.Lookup(a.Model.ID, errorCode)
		if oldErrorCode == 0 && a.log != nil {
			a.log.Error("drive error code reported", "error_code", errorCode, "description", entry.Description)
		}
	}

	fault := state == cia402.Fault || state == cia402.FaultReactionActive || errorCode != 0
	faultDesc := ""
	if fault {
		faultDesc = fmt.Sprintf("%s (%s)", entry.Description, a.Addr.Slug())
		if entry.Description == "" {
			faultDesc = fmt.Sprintf("%s (%s)", state.String(), a.Addr.Slug())
		}
	}

	target, _ := cia402.ParseState(a.CommandIn.Get(KeyTargetState).(string))
	goalReached := cia402.ReachedGoal(state, target)
	goalReason := ""
	if !goalReached {
		goalReason = fmt.Sprintf("Waiting: at %s, target %s", state, target)
	}

	a.lastState = state
	a.hadError = errorCode != 0

	a.FeedbackOut.Update(map[string]any{
		KeyStatusWord:  raw,
		KeyErrorCode:   errorCode,
		KeyState:       state.String(),
		KeyOperational: state != cia402.NotReadyToSwitchOn,
		KeyGoalReached: goalReached,
		KeyGoalReason:  goalReason,
		KeyFault:       fault,
		KeyFaultDesc:   faultDesc,
		KeyDescription: entry.Description,
		KeyAdvice:      entry.Advice,
		KeyModeFb:      a.FeedbackIn.Get(KeyModeFb).(int8),
	})
}

// SetCommand records the supervisor's requested target state and mode and
// computes the control word that moves the drive one hop toward it.
func (a *Adapter) SetCommand(target cia402.State, modeCmd int8, reset bool) {
	a.CommandIn.Update(map[string]any{
		KeyTargetState: target.String(),
		KeyModeCmd:     modeCmd,
		KeyReset:       reset,
	})

	cw := cia402.NextControlWord(a.lastState, target, reset)
	a.CommandOut.Update(map[string]any{
		KeyControlWord: cw,
		KeyState:       target.String(),
		KeyModeCmd:     modeCmd,
	})
}

// Write pushes control_word and mode_cmd to the external master.
func (a *Adapter) Write(ctx context.Context) error {
	addr := iobus.Addr{Bus: a.Addr.Bus, Alias: a.Addr.Alias, Position: a.Addr.Position}

	cw := a.CommandOut.Get(KeyControlWord).(uint16)
	if err := a.master.PDOWrite(ctx, addr, KeyControlWord, cw); err != nil {
		return fmt.Errorf("drive %s: write control_word: %w", a.Addr.Slug(), err)
	}
	mc := a.CommandOut.Get(KeyModeCmd).(int8)
	if err := a.master.PDOWrite(ctx, addr, KeyModeCmd, mc); err != nil {
		return fmt.Errorf("drive %s: write mode_cmd: %w", a.Addr.Slug(), err)
	}
	return nil
}

// Advance rolls every owned bundle's current values into previous. Must be
// called exactly once per tick, after Write.
func (a *Adapter) Advance() {
	a.FeedbackIn.Advance()
	a.FeedbackOut.Advance()
	a.CommandIn.Advance()
	a.CommandOut.Advance()
}

func (a *Adapter) String() string {
	return fmt.Sprintf("%s[%s]", a.Model.ID, a.Addr.Slug())
}
