//go:build !linux
// +build !linux

// Package transport
// Author: momentics <momentics@gmail.com>
//
// Portable fallbacks where writev/sendfile are not bound.

package transport

import (
	"github.com/momentics/hioload-uwsd/api"
	"golang.org/x/sys/unix"
)

func writev(fd int, bufs [][]byte) (int, error) {
	return linearize(func(b []byte) (int, error) { return unix.Write(fd, b) }, bufs)
}

func sendfile(out, in int, offset *int64, count int) (int, error) {
	return 0, api.ErrUnsupported
}
