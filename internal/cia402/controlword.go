package cia402

// Control word bit semantics, DS402 §7.2.1.
const (
	CWSwitchOn        uint16 = 1 << 0
	CWEnableVoltage   uint16 = 1 << 1
	CWQuickStop       uint16 = 1 << 2
	CWEnableOperation uint16 = 1 << 3
	CWFaultReset      uint16 = 1 << 7
)

// Canonical control words for holding a state steady (re-sent every tick
// once the goal is reached, so a momentary read glitch doesn't regress
// the drive).
const (
	holdSwitchOnDisabled = 0x0000
	holdReadyToSwitchOn  = 0x0006
	holdSwitchedOn       = 0x0007
	holdOperationEnabled = 0x000F
	holdQuickStopActive  = 0x0002
)

func holdWord(s State) uint16 {
	switch s {
	case SwitchOnDisabled:
		return holdSwitchOnDisabled
	case ReadyToSwitchOn:
		return holdReadyToSwitchOn
	case SwitchedOn:
		return holdSwitchedOn
	case OperationEnabled:
		return holdOperationEnabled
	case QuickStopActive:
		return holdQuickStopActive
	default:
		return 0x0000
	}
}

// NextControlWord selects the control word that moves current one hop
// along the shortest canonical path toward target (DS402 Shutdown / Switch
// On / Enable Operation / Disable Voltage command words), per the
// path_to_switch_on_disabled / path_to_operation_enabled tables. It never
// encodes two hops in a single word.
//
// If current is FAULT or FAULT_REACTION_ACTIVE, the only way out is the
// caller asserting reset; NextControlWord then sets the fault-reset bit
// and leaves it to the caller to drive it low again the following tick.
// Any other requested target is routed through SWITCH ON DISABLED first,
// which happens automatically because the fault path ignores target.
func NextControlWord(current, target State, reset bool) uint16 {
	if current == Fault || current == FaultReactionActive {
		if reset {
			return CWFaultReset
		}
		return 0x0000
	}

	if current == target {
		return holdWord(current)
	}

	switch target {
	case SwitchOnDisabled:
		// Disable Voltage command word: xxxx xx0x, reachable from any state.
		return 0x0000
	case SwitchedOn:
		if current == OperationEnabled {
			// Disable Operation: drop bit 3, fall back to SWITCHED ON.
			return holdSwitchedOn
		}
		// Combined Shutdown+Switch On word; the drive's own profile logic
		// advances through READY TO SWITCH ON within the same cycle.
		return holdSwitchedOn
	case OperationEnabled:
		cw := uint16(holdOperationEnabled)
		if reset {
			cw |= CWFaultReset
		}
		return cw
	default:
		return 0x0000
	}
}

// ReachedGoal reports whether current exactly matches target. QUICK STOP
// ACTIVE and FAULT never count as reaching OPERATION ENABLED even in the
// degenerate case where a caller mistakenly set one of them as the goal.
func ReachedGoal(current, target State) bool {
	if target == OperationEnabled && (current == QuickStopActive || current == Fault) {
		return false
	}
	return current == target
}
