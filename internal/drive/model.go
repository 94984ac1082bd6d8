package drive

// Mode is a CiA-402 mode-of-operation identifier (CSP, CSV, HM, ...), the
// value exchanged as modes_supported/mode_fb/mode_cmd.
type Mode int8

const (
	ModeNone               Mode = 0
	ModeProfilePosition    Mode = 1
	ModeVelocity           Mode = 2
	ModeProfileVelocity    Mode = 3
	ModeHoming             Mode = 6
	ModeCyclicSyncPosition Mode = 8
	ModeCyclicSyncVelocity Mode = 9
	ModeCyclicSyncTorque   Mode = 10
)

// Profile describes the CiA-402 modes a model supports. Supports reports
// membership; the adapter does not check mode_cmd against it.
type Profile struct {
	Modes []Mode
}

func (p Profile) Supports(m Mode) bool {
	for _, supported := range p.Modes {
		if supported == m {
			return true
		}
	}
	return false
}

// StatusWordQuirk preprocesses a raw status word before it reaches
// cia402.DecodeState, for vendor bit deviations from the CiA-402 standard
// (spec.md §9 Open Questions: "bit 15 'home found' on some Inovance
// drives"). It must mask out the noise, not reinterpret the meaningful
// bits.
type StatusWordQuirk func(raw uint16) uint16

// Model is the (vendor_id, product_code, revision) descriptor plus the
// identifier used as the error-catalog and profile key. It replaces the
// source's per-model multiple-inheritance mix-in with a single descriptor
// value, per spec.md §9's "Dynamic multiple inheritance → explicit
// composition" design note.
type Model struct {
	VendorID    uint32
	ProductCode uint32
	Revision    uint32
	ID          string
	Profile     Profile
	Quirk       StatusWordQuirk // optional, nil for standard-compliant drives
	Sim         bool
}

func (m Model) applyQuirk(raw uint16) uint16 {
	if m.Quirk == nil {
		return raw
	}
	return m.Quirk(raw)
}

// InovanceHomeFoundQuirk masks off bit 15, used by some Inovance drives to
// report "home found" outside the CiA-402 status-word allocation.
func InovanceHomeFoundQuirk(raw uint16) uint16 {
	return raw &^ (1 << 15)
}
