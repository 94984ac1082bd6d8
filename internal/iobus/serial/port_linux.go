//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LinuxPort is a termios-configured serial file descriptor. It replaces
// the teacher's raw syscall.Syscall(SYS_IOCTL, ...) + hand-rolled CBAUD
// mask (dxl/serial_linux.go) with golang.org/x/sys/unix's
// IoctlGetTermios/IoctlSetTermios, resolving the teacher's own "Safest
// way... unsure" comment about the missing CBAUD constant.
type LinuxPort struct {
	fd int
}

// OpenPort opens portName and configures it for 8N1 raw I/O at baudRate.
func OpenPort(portName string, baudRate int) (*LinuxPort, error) {
	fd, err := unix.Open(portName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", portName, err)
	}

	p := &LinuxPort{fd: fd}
	if err := p.setParams(baudRate); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return p, nil
}

func (p *LinuxPort) Close() error {
	return unix.Close(p.fd)
}

func (p *LinuxPort) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if err == unix.EAGAIN {
		return 0, nil
	}
	return n, err
}

func (p *LinuxPort) Write(b []byte) (int, error) {
	return unix.Write(p.fd, b)
}

func (p *LinuxPort) setParams(baudRate int) error {
	term, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("serial: IoctlGetTermios: %w", err)
	}

	cbaud := baudRateConst(baudRate)
	term.Cflag &^= unix.CBAUD
	term.Cflag |= cbaud

	term.Cflag &^= unix.CSIZE
	term.Cflag |= unix.CS8
	term.Cflag &^= unix.PARENB
	term.Cflag &^= unix.CSTOPB

	term.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ISIG
	term.Oflag &^= unix.OPOST
	term.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY
	term.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL

	// Non-blocking read; Driver.Transfer enforces its own deadline loop.
	term.Cc[unix.VMIN] = 0
	term.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, term); err != nil {
		return fmt.Errorf("serial: IoctlSetTermios: %w", err)
	}
	return nil
}

func baudRateConst(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 1000000:
		return unix.B1000000
	case 2000000:
		return unix.B2000000
	case 3000000:
		return unix.B3000000
	case 4000000:
		return unix.B4000000
	default:
		return unix.B115200
	}
}
