//go:build linux

// Package device opens the bus character device and waits for it to become
// readable.
//
// The line is switched to raw mode before use: no echo, no canonical line
// editing, no CR/LF translation, 8 data bits at a fixed speed. Anything else
// would corrupt the NUL-delimited frames.
package device

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var ErrUnsupportedBaud = errors.New("device: unsupported baud rate")

var bauds = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// Port is an open bus device in raw mode.
type Port struct {
	f  *os.File
	fd int
}

// Open opens path read-write, without making it the controlling terminal,
// and puts the line into raw mode at baud.
func Open(path string, baud int) (*Port, error) {
	speed, ok := bauds[baud]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("device: %s is not a terminal: %w", path, err)
	}
	makeRaw(t, speed)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("device: configure %s: %w", path, err)
	}
	// Drop whatever the line held before we owned it.
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("device: flush %s: %w", path, err)
	}

	return &Port{f: os.NewFile(uintptr(fd), path), fd: fd}, nil
}

func (p *Port) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.f.Write(b) }

// Flush blocks until everything written has been transmitted.
func (p *Port) Flush() error {
	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1) // tcdrain
}

// Fd returns the descriptor for NewPoller.
func (p *Port) Fd() int { return p.fd }

func (p *Port) Close() error { return p.f.Close() }

// makeRaw applies cfmakeraw plus a fixed speed.
func makeRaw(t *unix.Termios, speed uint32) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}
