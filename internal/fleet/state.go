// Package fleet implements the supervisor state machine (C5) and the
// cyclic read/get_feedback/set_command/write/advance pipeline (C6) that
// coordinate a set of drive.Adapter instances toward an operator-
// requested high-level state, grounded line-for-line on
// hw_device_mgr/mgr/mgr.py's GSM transition table and the teacher's own
// controlLoop() read-compute-write cycle (dxl/controller.go).
package fleet

// SubState is one of the supervisor's nested sub-states (spec.md §3).
type SubState int

const (
	InitCommand SubState = iota
	Init1
	InitComplete
	StartCommand
	Start1
	Start2
	StartComplete
	StopCommand
	Stop1
	StopComplete
	FaultCommand
	Fault1
	FaultComplete
)

func (s SubState) String() string {
	switch s {
	case InitCommand:
		return "init_command"
	case Init1:
		return "init_1"
	case InitComplete:
		return "init_complete"
	case StartCommand:
		return "start_command"
	case Start1:
		return "start_1"
	case Start2:
		return "start_2"
	case StartComplete:
		return "start_complete"
	case StopCommand:
		return "stop_command"
	case Stop1:
		return "stop_1"
	case StopComplete:
		return "stop_complete"
	case FaultCommand:
		return "fault_command"
	case Fault1:
		return "fault_1"
	case FaultComplete:
		return "fault_complete"
	default:
		return "unknown"
	}
}

// Tag is the coarse external command tag (spec.md §6 state command integer
// encoding): INIT=0, STOP=1, START=2, FAULT=4.
type Tag uint8

const (
	TagInit  Tag = 0
	TagStop  Tag = 1
	TagStart Tag = 2
	TagFault Tag = 4
)

func (t Tag) String() string {
	switch t {
	case TagInit:
		return "INIT"
	case TagStop:
		return "STOP"
	case TagStart:
		return "START"
	case TagFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// ParseTag maps the external state_cmd integer to a Tag, rejecting values
// outside {0,1,2,4} per spec.md §7 "Invalid external command".
func ParseTag(v uint8) (Tag, bool) {
	switch Tag(v) {
	case TagInit, TagStop, TagStart, TagFault:
		return Tag(v), true
	default:
		return TagInit, false
	}
}

// tag returns the coarse command tag the sub-state belongs to.
func (s SubState) tag() Tag {
	switch s {
	case InitCommand, Init1, InitComplete:
		return TagInit
	case StartCommand, Start1, Start2, StartComplete:
		return TagStart
	case StopCommand, Stop1, StopComplete:
		return TagStop
	case FaultCommand, Fault1, FaultComplete:
		return TagFault
	default:
		return TagInit
	}
}

// isInitFamily reports whether s is the init_1 sub-state, used by the
// accept-command guard (spec.md §4.5): while waiting for devices online,
// only INIT is accepted. init_command itself is never resident (see
// entryFor) so it is not checked here.
func (s SubState) isInitFamily() bool {
	return s == Init1
}

// complete reports whether s is one of the *_complete terminal sub-states.
func (s SubState) complete() bool {
	return s == InitComplete || s == StartComplete || s == StopComplete || s == FaultComplete
}

// entryFor returns the sub-state a freshly accepted external command of
// tag enters immediately. The *_command names in the transition table
// (spec.md §4.5) name the ACCEPTING EVENT, not a resident state: the FSM
// jumps straight to the numbered sub-state the event's row targets
// (init_command -> init_1, and so on), so init_command/start_command/
// stop_command/fault_command are kept only as String() labels for the
// coarse Tag they belong to and are never assigned to Fleet.sub.
func entryFor(tag Tag) SubState {
	switch tag {
	case TagInit:
		return Init1
	case TagStart:
		return Start1
	case TagStop:
		return Stop1
	case TagFault:
		return Fault1
	default:
		return Init1
	}
}
