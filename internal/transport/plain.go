// Package transport
// Author: momentics <momentics@gmail.com>
//
// Raw non-blocking socket transport.

package transport

import (
	"github.com/momentics/hioload-uwsd/api"
	"golang.org/x/sys/unix"
)

// Plain moves bytes with direct syscalls on the connection descriptor.
type Plain struct {
	D Descriptor
}

var _ api.Transport = (*Plain)(nil)

func (p *Plain) fd() (int, error) {
	fd := p.D.FD()
	if fd < 0 {
		return -1, api.ErrTransportClosed
	}
	return fd, nil
}

// Recv performs one non-blocking read.
func (p *Plain) Recv(b []byte) (int, error) {
	fd, err := p.fd()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, mapErrno("read", err)
		}
		return n, nil
	}
}

// Send performs one non-blocking write.
func (p *Plain) Send(b []byte) (int, error) {
	fd, err := p.fd()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, mapErrno("write", err)
		}
		return n, nil
	}
}

// SendVectored performs one gathered write.
func (p *Plain) SendVectored(bufs [][]byte) (int, error) {
	fd, err := p.fd()
	if err != nil {
		return 0, err
	}
	for {
		n, err := writev(fd, bufs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, mapErrno("writev", err)
		}
		return n, nil
	}
}

// SendFile copies count bytes of srcFD starting at *offset straight into the
// socket. offset is advanced by the number of bytes sent.
func (p *Plain) SendFile(srcFD int, offset *int64, count int) (int, error) {
	fd, err := p.fd()
	if err != nil {
		return 0, err
	}
	for {
		n, err := sendfile(fd, srcFD, offset, count)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, mapErrno("sendfile", err)
		}
		return n, nil
	}
}

// Encrypted reports false.
func (p *Plain) Encrypted() bool { return false }
