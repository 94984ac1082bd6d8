package serial

import (
	"bytes"
	"fmt"
	"time"
)

const (
	readBufferSize = 1024
	minHeaderSize  = 7 // Header(4) + SlaveID(1) + Length(2)
	defaultTimeout = 100 * time.Millisecond
)

// Driver is the request/response transport over a Port: write a framed
// packet, then accumulate bytes until a complete response frame arrives
// or the timeout elapses. Generalizes dxl.Driver's Transfer from a single
// motor ID to an arbitrary slave ID.
type Driver struct {
	port    Port
	Timeout time.Duration
}

// NewDriver wraps port with the default response timeout.
func NewDriver(port Port) *Driver {
	return &Driver{port: port, Timeout: defaultTimeout}
}

func findPacketStart(data []byte) int {
	for i := 0; i < len(data)-2; i++ {
		if data[i] == Header1 && data[i+1] == Header2 && data[i+2] == Header3 {
			return i
		}
	}
	return -1
}

func (d *Driver) readPacketWithTimeout(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := bytes.NewBuffer(nil)
	tmp := make([]byte, readBufferSize)

	for time.Now().Before(deadline) {
		n, err := d.port.Read(tmp)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		buf.Write(tmp[:n])

		if buf.Len() < minHeaderSize {
			continue
		}
		b := buf.Bytes()
		startIdx := findPacketStart(b)
		if startIdx == -1 || buf.Len() < startIdx+minHeaderSize {
			continue
		}

		pkt := buf.Bytes()
		bodyLen := uint16(pkt[startIdx+5]) | (uint16(pkt[startIdx+6]) << 8)
		totalLen := startIdx + minHeaderSize + int(bodyLen)
		if buf.Len() >= totalLen {
			return pkt[startIdx:totalLen], nil
		}
	}
	return nil, fmt.Errorf("serial: read timeout, buffered: %x", buf.Bytes())
}

// Transfer sends txPacket and waits for the response frame.
func (d *Driver) Transfer(txPacket []byte) ([]byte, error) {
	if _, err := d.port.Write(txPacket); err != nil {
		return nil, fmt.Errorf("serial: write failed: %w", err)
	}
	return d.readPacketWithTimeout(d.Timeout)
}

// Request builds, sends and parses one request/response round trip.
func (d *Driver) Request(slaveID uint8, inst uint8, params []byte) ([]byte, error) {
	tx := BuildPacket(slaveID, inst, params)
	rx, err := d.Transfer(tx)
	if err != nil {
		return nil, err
	}
	_, errCode, respParams, err := ParsePacket(rx)
	if err != nil {
		return nil, err
	}
	if errCode != 0 {
		return nil, fmt.Errorf("serial: slave %d reported error code %#02x", slaveID, errCode)
	}
	return respParams, nil
}
