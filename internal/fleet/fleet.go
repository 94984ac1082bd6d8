package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/bundle"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/cia402"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/drive"
)

// Aggregate bundle attribute keys (spec.md §6 observable outputs).
const (
	KeyState           = "state"
	KeyStateLog        = "state_log"
	KeyDriveState      = "drive_state"
	KeyCommandComplete = "command_complete"
	KeyReset           = "reset"
	KeyEnabled         = "enabled"
	KeyFault           = "fault"
	KeyFaultDesc       = "fault_desc"
	KeyGoalReached     = "goal_reached"
	KeyGoalReason      = "goal_reason"

	KeyStateCmd = "state_cmd"
	KeyStateSet = "state_set"
)

// EventSink receives a notification for every fault entry, goal timeout
// and state transition, so internal/eventlog can persist fleet history
// without the core depending on sqlite directly.
type EventSink interface {
	RecordTransition(from, to SubState, reason string)
	RecordFault(desc string)
}

// Fleet is the supervisor: it owns every drive.Adapter exclusively
// (spec.md §3 Ownership) and runs the cyclic pipeline across all of them.
type Fleet struct {
	cfg    Config
	drives []*drive.Adapter
	log    *slog.Logger
	sink   EventSink

	CommandIn   *bundle.Bundle
	FeedbackOut *bundle.Bundle

	sub            SubState
	subEnteredTick uint64
	tick           uint64
	pendingTag     Tag

	reset           bool
	commandComplete bool
	fastTrack       bool
	shutdown        bool

	stallTicks int
}

// New constructs a Fleet over drives, starting in init_1 (waiting for the
// drives to come online), the sub-state of the implicit boot INIT command.
func New(cfg Config, drives []*drive.Adapter, log *slog.Logger) *Fleet {
	f := &Fleet{
		cfg:    cfg,
		drives: drives,
		log:    log,
		sub:    Init1,
	}

	f.CommandIn = bundle.New("fleet:command_in")
	f.CommandIn.Declare(KeyStateCmd, uint8(0), bundle.Uint8)
	f.CommandIn.Declare(KeyStateSet, false, bundle.Bit)

	f.FeedbackOut = bundle.New("fleet:feedback_out")
	f.FeedbackOut.Declare(KeyState, TagInit.String(), bundle.Str)
	f.FeedbackOut.Declare(KeyStateLog, "", bundle.Str)
	f.FeedbackOut.Declare(KeyDriveState, cia402.SwitchOnDisabled.String(), bundle.Str)
	f.FeedbackOut.Declare(KeyCommandComplete, false, bundle.Bit)
	f.FeedbackOut.Declare(KeyReset, false, bundle.Bit)
	f.FeedbackOut.Declare(KeyEnabled, false, bundle.Bit)
	f.FeedbackOut.Declare(KeyFault, false, bundle.Bit)
	f.FeedbackOut.Declare(KeyFaultDesc, "", bundle.Str)
	f.FeedbackOut.Declare(KeyGoalReached, false, bundle.Bit)
	f.FeedbackOut.Declare(KeyGoalReason, "", bundle.Str)

	for _, d := range drives {
		prefix := "d" + d.Addr.Slug() + "_"
		f.FeedbackOut.Declare(prefix+drive.KeyStatusWord, uint16(0), bundle.Uint16)
		f.FeedbackOut.Declare(prefix+drive.KeyControlWord, uint16(0), bundle.Uint16)
		f.FeedbackOut.Declare(prefix+drive.KeyErrorCode, uint32(0), bundle.Uint32)
		f.FeedbackOut.Declare(prefix+drive.KeyDescription, "", bundle.Str)
		f.FeedbackOut.Declare(prefix+drive.KeyAdvice, "", bundle.Str)
		f.FeedbackOut.Declare(prefix+drive.KeyFault, false, bundle.Bit)
		f.FeedbackOut.Declare(prefix+drive.KeyFaultDesc, "", bundle.Str)
		f.FeedbackOut.Declare(prefix+drive.KeyGoalReached, false, bundle.Bit)
		f.FeedbackOut.Declare(prefix+drive.KeyGoalReason, "", bundle.Str)
	}

	return f
}

// SetEventSink attaches the optional fault/transition history sink.
func (f *Fleet) SetEventSink(sink EventSink) { f.sink = sink }

// IssueCommand is the operator interface: it sets state_cmd and toggles
// state_set low->high, so the next Tick observes the rising edge spec.md
// §4.5 requires for external command latching.
func (f *Fleet) IssueCommand(tag Tag) {
	f.CommandIn.Update(map[string]any{KeyStateCmd: uint8(tag), KeyStateSet: false})
	f.CommandIn.Advance()
	f.CommandIn.Update(map[string]any{KeyStateCmd: uint8(tag), KeyStateSet: true})
}

// RequestShutdown marks the pipeline to stop after the current tick
// completes, the operator-shutdown equivalent of spec.md §4.6.
func (f *Fleet) RequestShutdown() { f.shutdown = true }

func (f *Fleet) Shutdown() bool   { return f.shutdown }
func (f *Fleet) FastTrack() bool  { return f.fastTrack }
func (f *Fleet) SubState() SubState { return f.sub }

// Tick runs one full read -> get_feedback -> set_command -> write ->
// advance cycle, with exception containment per spec.md §4.6/§7.
func (f *Fleet) Tick(ctx context.Context) {
	f.fastTrack = false

	if err := f.safeStep("read", func() error { return f.readAll(ctx) }); err != nil {
		f.enterException(err)
		return
	}

	var newFault bool
	var faultDesc string
	var allOperational, allGoalReached bool
	var waiting []string

	if err := f.safeStep("get_feedback", func() error {
		newFault, faultDesc, allOperational, allGoalReached, waiting = f.getFeedback()
		return nil
	}); err != nil {
		f.enterException(err)
		return
	}

	if err := f.safeStep("set_command", func() error {
		f.setCommand(newFault, faultDesc, allOperational, allGoalReached, waiting)
		return nil
	}); err != nil {
		f.enterException(err)
		return
	}

	if err := f.safeStep("write", func() error { return f.writeAll(ctx) }); err != nil {
		f.enterException(err)
		return
	}

	f.advanceAll()
	f.tick++
}

func (f *Fleet) safeStep(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fleet: panic in %s: %v", name, r)
		}
	}()
	return fn()
}

func (f *Fleet) enterException(err error) {
	f.log.Error("unexpected exception in pipeline tick", "error", err)
	from := f.sub
	f.sub = Fault1
	f.pendingTag = TagFault
	f.subEnteredTick = f.tick
	f.commandComplete = false
	f.FeedbackOut.Update(map[string]any{
		KeyState:    TagFault.String(),
		KeyStateLog: "Unexpected exception",
		KeyFault:    true,
	})
	if f.sink != nil {
		f.sink.RecordTransition(from, Fault1, "Unexpected exception")
	}
	f.advanceAll()
	f.tick++
}

func (f *Fleet) readAll(ctx context.Context) error {
	for _, d := range f.drives {
		if err := d.Read(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fleet) writeAll(ctx context.Context) error {
	for _, d := range f.drives {
		if err := d.Write(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fleet) advanceAll() {
	for _, d := range f.drives {
		d.Advance()
	}
	f.CommandIn.Advance()
	f.FeedbackOut.Advance()
}

// getFeedback computes per-drive feedback, then merges it into the
// aggregate bundle per spec.md §4.6 step 2.
func (f *Fleet) getFeedback() (newFault bool, faultDesc string, allOperational, allGoalReached bool, waiting []string) {
	allOperational = true
	allGoalReached = true
	anyStateChanged := false

	type faultGroup struct {
		desc  string
		slugs []string
	}
	var groups []faultGroup

	for _, d := range f.drives {
		d.GetFeedback()
		slug := d.Addr.Slug()
		prefix := "d" + slug + "_"

		fo := d.FeedbackOut
		f.FeedbackOut.Update(map[string]any{
			prefix + drive.KeyStatusWord:  fo.Get(drive.KeyStatusWord),
			prefix + drive.KeyControlWord: d.CommandOut.Get(drive.KeyControlWord),
			prefix + drive.KeyErrorCode:   fo.Get(drive.KeyErrorCode),
			prefix + drive.KeyDescription: fo.Get(drive.KeyDescription),
			prefix + drive.KeyAdvice:      fo.Get(drive.KeyAdvice),
			prefix + drive.KeyFault:       fo.Get(drive.KeyFault),
			prefix + drive.KeyFaultDesc:   fo.Get(drive.KeyFaultDesc),
			prefix + drive.KeyGoalReached: fo.Get(drive.KeyGoalReached),
			prefix + drive.KeyGoalReason:  fo.Get(drive.KeyGoalReason),
		})

		if !fo.Get(drive.KeyOperational).(bool) {
			allOperational = false
		}

		if fo.RisingEdge(drive.KeyFault) {
			newFault = true
		}
		if fo.Get(drive.KeyFault).(bool) {
			desc := fo.Get(drive.KeyDescription).(string)
			if desc == "" {
				desc = fo.Get(drive.KeyState).(string)
			}
			placed := false
			for i := range groups {
				if groups[i].desc == desc {
					groups[i].slugs = append(groups[i].slugs, slug)
					placed = true
					break
				}
			}
			if !placed {
				groups = append(groups, faultGroup{desc: desc, slugs: []string{slug}})
			}
		}
		if !fo.Get(drive.KeyGoalReached).(bool) {
			allGoalReached = false
			waiting = append(waiting, slug)
		}
		if fo.Changed(drive.KeyState) {
			anyStateChanged = true
		}
	}

	// MaxStallTicks (spec.md supplement, Config.MaxStallTicks): a run of
	// ticks where no drive's CiA-402 state moves while the supervisor is
	// still waiting on one escalates to fault even before the coarser
	// GoalStateTimeout elapses.
	if len(waiting) == 0 || anyStateChanged {
		f.stallTicks = 0
	} else {
		f.stallTicks++
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].desc < groups[j].desc })
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%s (%s)", g.desc, strings.Join(g.slugs, ",")))
	}
	faultDesc = strings.Join(parts, "; ")

	// Fault stickiness (spec.md §4.6 step 2d): while already in the fault
	// family, fault_desc is frozen to the value captured at fault entry.
	if f.sub.tag() == TagFault {
		faultDesc = f.FeedbackOut.Get(KeyFaultDesc).(string)
	}

	commandComplete := f.commandComplete
	goalReached := commandComplete

	fault := newFault || f.sub.tag() == TagFault
	enabled := f.sub.tag() == TagStart && goalReached && !fault

	f.FeedbackOut.Update(map[string]any{
		KeyFault:       fault,
		KeyFaultDesc:   faultDescOrEmpty(fault, faultDesc),
		KeyGoalReached: goalReached,
		KeyGoalReason:  goalReasonFor(waiting),
		KeyEnabled:     enabled,
	})

	return newFault, faultDesc, allOperational, allGoalReached, waiting
}

func faultDescOrEmpty(fault bool, desc string) string {
	if !fault {
		return ""
	}
	return desc
}

func goalReasonFor(waiting []string) string {
	if len(waiting) == 0 {
		return ""
	}
	return fmt.Sprintf("Waiting on: %s", strings.Join(waiting, ","))
}

// setCommand runs the supervisor FSM: fault escalation takes precedence
// over any external command latched this tick (spec.md §4.5); absent
// that, a rising edge on state_set latches a new command; absent that,
// the current sub-state's automatic transition (§4.6 step 3) is
// attempted, gated by goal-state timeout.
func (f *Fleet) setCommand(newFault bool, faultDesc string, allOperational, allGoalReached bool, waiting []string) {
	switch {
	case newFault && f.sub.tag() != TagFault:
		f.commandComplete = false
		f.reset = false
		f.transitionTo(Fault1, TagFault, "Manager fault")
		if f.sink != nil {
			f.sink.RecordFault(faultDesc)
		}
		if f.CommandIn.RisingEdge(KeyStateSet) {
			f.log.Warn("external command ignored: squelched by new fault")
		}

	case f.CommandIn.RisingEdge(KeyStateSet):
		f.handleExternalCommand()

	default:
		f.attemptAutoTransition(allOperational, allGoalReached, waiting)
	}

	f.checkTimeout(waiting)

	target := targetStateFor(f.sub)
	for _, d := range f.drives {
		d.SetCommand(target, 0, f.reset)
	}

	f.FeedbackOut.Update(map[string]any{
		KeyState:           f.sub.tag().String(),
		KeyStateLog:        f.FeedbackOut.Get(KeyStateLog),
		KeyDriveState:      target.String(),
		KeyCommandComplete: f.commandComplete,
		KeyReset:           f.reset,
	})
}

func (f *Fleet) handleExternalCommand() {
	raw := f.CommandIn.Get(KeyStateCmd).(uint8)
	tag, ok := ParseTag(raw)
	if !ok {
		f.log.Warn("invalid external command dropped", "state_cmd", raw)
		return
	}
	if !f.acceptCommand(tag) {
		f.log.Warn("external command rejected", "tag", tag.String())
		return
	}

	sub := entryFor(tag)
	reason := fmt.Sprintf("accepted external '%s' command", strings.ToLower(tag.String()))
	f.commandComplete = false
	// Recovering out of the fault family asserts fault-reset for the
	// drives still in FAULT; NextControlWord drops it again once they've
	// settled at their hold word.
	f.reset = f.sub.tag() == TagFault
	f.transitionTo(sub, tag, reason)
	if sub == Init1 {
		f.log.Info("waiting for devices online")
	}
}

// acceptCommand is the accept-command guard (spec.md §4.5): while in the
// init family (except init_complete) only INIT is accepted; a redundant
// command matching the one already in flight is rejected.
func (f *Fleet) acceptCommand(tag Tag) bool {
	if f.sub.isInitFamily() && tag != TagInit {
		return false
	}
	if tag == f.pendingTag && !f.sub.complete() {
		return false
	}
	return true
}

func (f *Fleet) attemptAutoTransition(allOperational, allGoalReached bool, waiting []string) {
	if f.subEnteredTick >= f.tick {
		// Entered this very tick; needs at least one full tick resident
		// before its own automatic transition is evaluated.
		return
	}

	switch f.sub {
	case Init1:
		if allOperational && allGoalReached {
			f.transitionTo(InitComplete, TagInit, "all devices online and at goal")
			// Auto-issue stop_command per spec.md §4.5 init_complete action.
			f.transitionTo(Stop1, TagStop, "Automatic 'stop' command at init complete")
		}
	case Start1:
		if allGoalReached {
			f.reset = true
			f.transitionTo(Start2, TagStart, "all drives at SWITCHED ON")
		}
	case Start2:
		if allGoalReached {
			f.reset = false
			f.commandComplete = true
			f.transitionTo(StartComplete, TagStart, "all drives at OPERATION ENABLED")
		}
	case Stop1:
		if allGoalReached {
			f.commandComplete = true
			f.transitionTo(StopComplete, TagStop, "all drives at SWITCH ON DISABLED")
		}
	case Fault1:
		if allGoalReached {
			f.commandComplete = true
			f.transitionTo(FaultComplete, TagFault, "all drives at SWITCH ON DISABLED")
		}
	}
}

func (f *Fleet) checkTimeout(waiting []string) {
	if f.sub.complete() {
		return
	}

	stalled := f.cfg.MaxStallTicks > 0 && f.stallTicks >= f.cfg.MaxStallTicks
	elapsed := float64(f.tick-f.subEnteredTick) / f.cfg.UpdateRate
	budget := f.cfg.timeoutFor(f.sub).Seconds()
	if !stalled && elapsed < budget {
		return
	}

	reason := fmt.Sprintf("timeout waiting on %d devices: %s", len(waiting), strings.Join(waiting, ", "))
	if stalled {
		reason = "no drive state change within max_stall_ticks"
	}

	if f.sub == Fault1 {
		f.commandComplete = true
		f.transitionTo(FaultComplete, TagFault, "goal timeout while waiting for fault recovery")
		return
	}
	f.transitionTo(Fault1, TagFault, reason)
}

func (f *Fleet) transitionTo(sub SubState, tag Tag, reason string) {
	from := f.sub
	f.sub = sub
	f.pendingTag = tag
	f.subEnteredTick = f.tick
	f.fastTrack = true
	f.FeedbackOut.Set(KeyStateLog, reason)
	if f.sink != nil {
		f.sink.RecordTransition(from, sub, reason)
	}
}

func targetStateFor(sub SubState) cia402.State {
	switch sub {
	case Start1:
		return cia402.SwitchedOn
	case Start2, StartComplete:
		return cia402.OperationEnabled
	default:
		return cia402.SwitchOnDisabled
	}
}
