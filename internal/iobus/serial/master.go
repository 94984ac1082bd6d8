package serial

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/bundle"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
)

// pdoKey is the fixed code/type pair used to frame a named PDO key over
// the wire, since the serial stand-in has no object dictionary of its own
// to describe cyclic domain layout.
type pdoKey struct {
	code  byte
	dtype bundle.DataType
}

var pdoKeys = map[string]pdoKey{
	"status_word":  {0x01, bundle.Uint16},
	"error_code":   {0x02, bundle.Uint32},
	"mode_fb":      {0x03, bundle.Int8},
	"control_word": {0x04, bundle.Uint16},
	"mode_cmd":     {0x05, bundle.Int8},
}

// SlaveEntry statically describes one drive reachable over this serial
// link. Unlike a real EtherCAT master, this stand-in cannot enumerate the
// bus itself, so the slave table is supplied at construction (spec.md §1
// scopes the concrete master transport out of core; this is a minimal,
// testable substitute, not a full protocol implementation).
type SlaveEntry struct {
	Addr        iobus.Addr
	VendorID    uint32
	ProductCode uint32
	Revision    uint32
}

// Master implements iobus.Master by framing SDO/PDO requests over a
// Driver, generalizing the teacher's single-motor Write/Read/Ping
// (dxl/driver.go) to indexed object-dictionary and named-key access.
type Master struct {
	driver *Driver
	slaves map[iobus.Addr]SlaveEntry
}

// NewMaster builds a Master over driver, serving the given static slave
// table for Scan and for resolving an Addr to its wire slave ID.
func NewMaster(driver *Driver, slaves []SlaveEntry) *Master {
	m := &Master{driver: driver, slaves: make(map[iobus.Addr]SlaveEntry, len(slaves))}
	for _, s := range slaves {
		m.slaves[s.Addr] = s
	}
	return m
}

func slaveID(addr iobus.Addr) uint8 {
	return uint8(addr.Position & 0xFF)
}

func (m *Master) Scan(ctx context.Context) ([]iobus.DiscoveredDrive, error) {
	out := make([]iobus.DiscoveredDrive, 0, len(m.slaves))
	for addr, s := range m.slaves {
		out = append(out, iobus.DiscoveredDrive{
			Bus:         addr.Bus,
			Alias:       addr.Alias,
			Position:    addr.Position,
			VendorID:    s.VendorID,
			ProductCode: s.ProductCode,
			Revision:    s.Revision,
		})
	}
	return out, nil
}

func (m *Master) SDORead(ctx context.Context, addr iobus.Addr, index uint16, subindex uint8, dtype bundle.DataType) (any, error) {
	params := []byte{byte(index), byte(index >> 8), subindex, dtypeCode(dtype)}
	resp, err := m.driver.Request(slaveID(addr), InstSDORead, params)
	if err != nil {
		return nil, fmt.Errorf("serial: sdo_read %s index %#04x: %w", addr, index, err)
	}
	return decodeValue(dtype, resp)
}

func (m *Master) SDOWrite(ctx context.Context, addr iobus.Addr, index uint16, subindex uint8, dtype bundle.DataType, value any) error {
	header := []byte{byte(index), byte(index >> 8), subindex, dtypeCode(dtype)}
	encoded, err := encodeValue(dtype, value)
	if err != nil {
		return fmt.Errorf("serial: sdo_write %s index %#04x: %w", addr, index, err)
	}
	if _, err := m.driver.Request(slaveID(addr), InstSDOWrite, append(header, encoded...)); err != nil {
		return fmt.Errorf("serial: sdo_write %s index %#04x: %w", addr, index, err)
	}
	return nil
}

func (m *Master) PDORead(ctx context.Context, addr iobus.Addr, key string) (any, error) {
	k, ok := pdoKeys[key]
	if !ok {
		return nil, fmt.Errorf("serial: unknown pdo key %q", key)
	}
	resp, err := m.driver.Request(slaveID(addr), InstPDORead, []byte{k.code})
	if err != nil {
		return nil, fmt.Errorf("serial: pdo_read %s %q: %w", addr, key, err)
	}
	return decodeValue(k.dtype, resp)
}

func (m *Master) PDOWrite(ctx context.Context, addr iobus.Addr, key string, value any) error {
	k, ok := pdoKeys[key]
	if !ok {
		return fmt.Errorf("serial: unknown pdo key %q", key)
	}
	encoded, err := encodeValue(k.dtype, value)
	if err != nil {
		return fmt.Errorf("serial: pdo_write %s %q: %w", addr, key, err)
	}
	params := append([]byte{k.code}, encoded...)
	if _, err := m.driver.Request(slaveID(addr), InstPDOWrite, params); err != nil {
		return fmt.Errorf("serial: pdo_write %s %q: %w", addr, key, err)
	}
	return nil
}

func dtypeCode(dtype bundle.DataType) byte {
	switch dtype {
	case bundle.Bit:
		return 1
	case bundle.Int8:
		return 2
	case bundle.Uint8:
		return 3
	case bundle.Uint16:
		return 4
	case bundle.Uint32:
		return 5
	default:
		return 0
	}
}

func encodeValue(dtype bundle.DataType, value any) ([]byte, error) {
	switch dtype {
	case bundle.Bit:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case bundle.Int8:
		v, ok := value.(int8)
		if !ok {
			return nil, fmt.Errorf("expected int8, got %T", value)
		}
		return []byte{byte(v)}, nil
	case bundle.Uint8:
		v, ok := value.(uint8)
		if !ok {
			return nil, fmt.Errorf("expected uint8, got %T", value)
		}
		return []byte{v}, nil
	case bundle.Uint16:
		v, ok := value.(uint16)
		if !ok {
			return nil, fmt.Errorf("expected uint16, got %T", value)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, v)
		return buf, nil
	case bundle.Uint32:
		v, ok := value.(uint32)
		if !ok {
			return nil, fmt.Errorf("expected uint32, got %T", value)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v)
		return buf, nil
	default:
		return nil, fmt.Errorf("serial: unsupported data type %q", dtype)
	}
}

func decodeValue(dtype bundle.DataType, data []byte) (any, error) {
	switch dtype {
	case bundle.Bit:
		if len(data) < 1 {
			return nil, fmt.Errorf("serial: short response for bit")
		}
		return data[0] != 0, nil
	case bundle.Int8:
		if len(data) < 1 {
			return nil, fmt.Errorf("serial: short response for int8")
		}
		return int8(data[0]), nil
	case bundle.Uint8:
		if len(data) < 1 {
			return nil, fmt.Errorf("serial: short response for uint8")
		}
		return data[0], nil
	case bundle.Uint16:
		if len(data) < 2 {
			return nil, fmt.Errorf("serial: short response for uint16")
		}
		return binary.LittleEndian.Uint16(data), nil
	case bundle.Uint32:
		if len(data) < 4 {
			return nil, fmt.Errorf("serial: short response for uint32")
		}
		return binary.LittleEndian.Uint32(data), nil
	default:
		return nil, fmt.Errorf("serial: unsupported data type %q", dtype)
	}
}
