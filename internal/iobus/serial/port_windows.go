//go:build windows

package serial

import (
	"fmt"
	"syscall"
	"unsafe"
)

// Windows COM port constants, carried over from the teacher's
// dxl/serial_windows.go.
const (
	genericRead  = 0x80000000
	genericWrite = 0x40000000
	openExisting = 3

	noParity   = 0
	oneStopBit = 0

	purgeTxAbort = 0x0001
	purgeRxAbort = 0x0002
	purgeTxClear = 0x0004
	purgeRxClear = 0x0008
)

// WindowsPort is a DCB-configured Windows COM port handle.
type WindowsPort struct {
	handle syscall.Handle
}

type dcb struct {
	DCBlength  uint32
	BaudRate   uint32
	Flags      uint32
	wReserved  uint16
	XonLim     uint16
	XoffLim    uint16
	ByteSize   byte
	Parity     byte
	StopBits   byte
	XonChar    byte
	XoffChar   byte
	ErrorChar  byte
	EofChar    byte
	EvtChar    byte
	wReserved1 uint16
}

type commTimeouts struct {
	ReadIntervalTimeout         uint32
	ReadTotalTimeoutMultiplier  uint32
	ReadTotalTimeoutConstant    uint32
	WriteTotalTimeoutMultiplier uint32
	WriteTotalTimeoutConstant   uint32
}

var (
	modkernel32         = syscall.NewLazyDLL("kernel32.dll")
	procGetCommState    = modkernel32.NewProc("GetCommState")
	procSetCommState    = modkernel32.NewProc("SetCommState")
	procSetCommTimeouts = modkernel32.NewProc("SetCommTimeouts")
	procSetupComm       = modkernel32.NewProc("SetupComm")
	procPurgeComm       = modkernel32.NewProc("PurgeComm")
)

// OpenPort opens a COM port by name (e.g. "COM3") at baudRate.
func OpenPort(portName string, baudRate int) (*WindowsPort, error) {
	path, err := syscall.UTF16PtrFromString(`\\.\` + portName)
	if err != nil {
		return nil, err
	}

	handle, err := syscall.CreateFile(
		path,
		genericRead|genericWrite,
		0, nil, openExisting, 0, 0,
	)
	if err != nil {
		return nil, fmt.Errorf("serial: CreateFile: %w", err)
	}

	p := &WindowsPort{handle: handle}
	if err := p.setParams(baudRate); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.setTimeouts(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *WindowsPort) Close() error {
	return syscall.CloseHandle(p.handle)
}

func (p *WindowsPort) Read(b []byte) (int, error) {
	var n uint32
	err := syscall.ReadFile(p.handle, b, &n, nil)
	return int(n), err
}

func (p *WindowsPort) Write(b []byte) (int, error) {
	var n uint32
	err := syscall.WriteFile(p.handle, b, &n, nil)
	return int(n), err
}

func (p *WindowsPort) setParams(baud int) error {
	var state dcb
	state.DCBlength = uint32(unsafe.Sizeof(state))

	r1, _, e1 := procGetCommState.Call(uintptr(p.handle), uintptr(unsafe.Pointer(&state)))
	if r1 == 0 {
		return fmt.Errorf("serial: GetCommState: %w", e1)
	}

	state.BaudRate = uint32(baud)
	state.ByteSize = 8
	state.Parity = noParity
	state.StopBits = oneStopBit
	state.Flags = 1 // fBinary

	r1, _, e1 = procSetCommState.Call(uintptr(p.handle), uintptr(unsafe.Pointer(&state)))
	if r1 == 0 {
		return fmt.Errorf("serial: SetCommState: %w", e1)
	}

	procSetupComm.Call(uintptr(p.handle), 4096, 4096)
	procPurgeComm.Call(uintptr(p.handle), uintptr(purgeTxAbort|purgeRxAbort|purgeTxClear|purgeRxClear))
	return nil
}

func (p *WindowsPort) setTimeouts() error {
	timeouts := commTimeouts{
		ReadIntervalTimeout:         0,
		ReadTotalTimeoutMultiplier:  0,
		ReadTotalTimeoutConstant:    5,
		WriteTotalTimeoutMultiplier: 0,
		WriteTotalTimeoutConstant:   5,
	}

	r1, _, e1 := procSetCommTimeouts.Call(uintptr(p.handle), uintptr(unsafe.Pointer(&timeouts)))
	if r1 == 0 {
		return fmt.Errorf("serial: SetCommTimeouts: %w", e1)
	}
	return nil
}
