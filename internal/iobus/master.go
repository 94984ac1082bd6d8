// Package iobus defines the narrow external-I/O collaborator boundary the
// supervisor core talks to: bus scanning and SDO/PDO access. Concrete
// transports (a simulated master, and a serial-framed stand-in adapted
// from the teacher's Dynamixel driver) live in subpackages; the core only
// ever depends on the Master interface declared here.
package iobus

import (
	"context"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/bundle"
)

// DiscoveredDrive is one bus-scan result, matching spec §6's
// scan() -> [DiscoveredDrive{...}].
type DiscoveredDrive struct {
	Bus         int
	Alias       uint16
	Position    uint16
	VendorID    uint32
	ProductCode uint32
	Revision    uint32
}

// Addr identifies a drive on the bus by (bus_index, alias, position).
type Addr struct {
	Bus      int
	Alias    uint16
	Position uint16
}

// Master is the external EtherCAT master I/O collaborator. Implementations
// must not block a caller longer than one pipeline tick budget.
type Master interface {
	// Scan enumerates drives currently present on the bus.
	Scan(ctx context.Context) ([]DiscoveredDrive, error)

	// SDORead/SDOWrite perform acyclic object-dictionary access.
	SDORead(ctx context.Context, addr Addr, index uint16, subindex uint8, dtype bundle.DataType) (any, error)
	SDOWrite(ctx context.Context, addr Addr, index uint16, subindex uint8, dtype bundle.DataType, value any) error

	// PDORead/PDOWrite access the cyclic process-data domain.
	PDORead(ctx context.Context, addr Addr, key string) (any, error)
	PDOWrite(ctx context.Context, addr Addr, key string, value any) error
}
