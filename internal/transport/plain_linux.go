//go:build linux
// +build linux

// Package transport
// Author: momentics <momentics@gmail.com>
//
// Linux writev(2)/sendfile(2) bindings.

package transport

import "golang.org/x/sys/unix"

func writev(fd int, bufs [][]byte) (int, error) {
	return unix.Writev(fd, bufs)
}

func sendfile(out, in int, offset *int64, count int) (int, error) {
	return unix.Sendfile(out, in, offset, count)
}
