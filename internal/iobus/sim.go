package iobus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/bundle"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/cia402"
)

// SimDeviceSpec is one entry of sim_device_data (spec.md §6): a triple of
// model id, bus address and position used to synthesize a simulated
// drive at startup.
type SimDeviceSpec struct {
	ModelID  string
	Bus      int
	Alias    uint16
	Position uint16
}

// simDrive is the internally-consistent CiA-402 state kept per simulated
// drive: it tracks the control word last written and advances its own
// status word toward whatever state that control word implies, so a
// round-trip through Sim behaves like a real, cooperative drive rather
// than an echo chamber.
type simDrive struct {
	mu sync.Mutex

	modelID string

	state       cia402.State
	controlWord uint16
	modeCmd     int8
	modeFb      int8
	errorCode   uint32

	// InjectFault, set by test code via Sim.InjectFault, forces the next
	// Read to report this error code until cleared.
	injectedFault uint32
}

func (d *simDrive) step() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.injectedFault != 0 {
		d.errorCode = d.injectedFault
		d.state = cia402.Fault
		return
	}

	// A drive in FAULT only leaves it while the last written control word
	// has the fault-reset bit set (a level check, not an edge check).
	if d.state == cia402.Fault || d.state == cia402.FaultReactionActive {
		if d.controlWord&cia402.CWFaultReset != 0 {
			d.state = cia402.SwitchOnDisabled
			d.errorCode = 0
		}
		return
	}

	base := d.controlWord & 0x000F
	switch {
	case d.controlWord == 0x0000:
		d.state = cia402.SwitchOnDisabled
	case base == 0x000F:
		d.state = cia402.OperationEnabled
	case base == 0x0007:
		d.state = cia402.SwitchedOn
	case base&cia402.CWQuickStop == 0:
		d.state = cia402.QuickStopActive
	}
}

// Sim is an in-memory iobus.Master that behaves like a small fleet of
// cooperative CiA-402 drives, for the "supervisord sim" CLI subcommand and
// for fleet-level tests that would otherwise need real EtherCAT hardware.
type Sim struct {
	mu     sync.Mutex
	drives map[Addr]*simDrive
}

// NewSim constructs a simulated master pre-populated from specs, matching
// spec.md §6's sim_device_data contract.
func NewSim(specs []SimDeviceSpec) *Sim {
	s := &Sim{drives: make(map[Addr]*simDrive)}
	for _, spec := range specs {
		addr := Addr{Bus: spec.Bus, Alias: spec.Alias, Position: spec.Position}
		s.drives[addr] = &simDrive{
			modelID: spec.ModelID,
			state:   cia402.SwitchOnDisabled,
		}
	}
	return s
}

// InjectFault forces the drive at addr to report errorCode on its next
// Read, for exercising spec.md §8 scenario S3/S6 without real hardware.
func (s *Sim) InjectFault(addr Addr, errorCode uint32) error {
	s.mu.Lock()
	d, ok := s.drives[addr]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sim: no drive at %+v", addr)
	}
	d.mu.Lock()
	d.injectedFault = errorCode
	d.mu.Unlock()
	return nil
}

// ClearFault releases a previously injected fault.
func (s *Sim) ClearFault(addr Addr) {
	s.mu.Lock()
	d, ok := s.drives[addr]
	s.mu.Unlock()
	if ok {
		d.mu.Lock()
		d.injectedFault = 0
		d.mu.Unlock()
	}
}

func (s *Sim) Scan(ctx context.Context) ([]DiscoveredDrive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The simulated bus has no vendor/product identity of its own to
	// report; cmd/supervisord resolves a discovered sim drive to its
	// configured model by (bus, alias, position) instead, so VendorID/
	// ProductCode are left at their zero value here rather than faked.
	out := make([]DiscoveredDrive, 0, len(s.drives))
	for addr := range s.drives {
		out = append(out, DiscoveredDrive{
			Bus:      addr.Bus,
			Alias:    addr.Alias,
			Position: addr.Position,
		})
	}
	return out, nil
}

func (s *Sim) drive(addr Addr) (*simDrive, error) {
	s.mu.Lock()
	d, ok := s.drives[addr]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sim: no drive at %+v", addr)
	}
	return d, nil
}

func (s *Sim) SDORead(ctx context.Context, addr Addr, index uint16, subindex uint8, dtype bundle.DataType) (any, error) {
	d, err := s.drive(addr)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return zeroValue(dtype), nil
}

func (s *Sim) SDOWrite(ctx context.Context, addr Addr, index uint16, subindex uint8, dtype bundle.DataType, value any) error {
	_, err := s.drive(addr)
	return err
}

func (s *Sim) PDORead(ctx context.Context, addr Addr, key string) (any, error) {
	d, err := s.drive(addr)
	if err != nil {
		return nil, err
	}
	d.step()

	d.mu.Lock()
	defer d.mu.Unlock()
	switch key {
	case "status_word":
		return cia402.EncodeState(d.state), nil
	case "error_code":
		return d.errorCode, nil
	case "mode_fb":
		return d.modeFb, nil
	default:
		return nil, fmt.Errorf("sim: unknown pdo key %q", key)
	}
}

func (s *Sim) PDOWrite(ctx context.Context, addr Addr, key string, value any) error {
	d, err := s.drive(addr)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch key {
	case "control_word":
		d.controlWord = value.(uint16)
	case "mode_cmd":
		d.modeCmd = value.(int8)
		d.modeFb = d.modeCmd
	default:
		return fmt.Errorf("sim: unknown pdo key %q", key)
	}
	return nil
}

func zeroValue(dtype bundle.DataType) any {
	switch dtype {
	case bundle.Bit:
		return false
	case bundle.Int8:
		return int8(0)
	case bundle.Uint8:
		return uint8(0)
	case bundle.Uint16:
		return uint16(0)
	case bundle.Uint32:
		return uint32(0)
	default:
		return ""
	}
}
