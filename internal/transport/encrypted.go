// Package transport
// Author: momentics <momentics@gmail.com>
//
// TLS session backed transport.

package transport

import "github.com/momentics/hioload-uwsd/api"

// Encrypted delegates to the TLS record layer. TLS records are not natively
// vectored, so SendVectored linearizes and SendFile is refused.
type Encrypted struct {
	Session api.TLSSession
}

var _ api.Transport = (*Encrypted)(nil)

// Recv reads decrypted application data.
func (e *Encrypted) Recv(b []byte) (int, error) {
	if e.Session == nil {
		return 0, api.ErrTransportClosed
	}
	return e.Session.Read(b)
}

// Send encrypts and writes b.
func (e *Encrypted) Send(b []byte) (int, error) {
	if e.Session == nil {
		return 0, api.ErrTransportClosed
	}
	return e.Session.Write(b)
}

// SendVectored writes each buffer as its own record.
func (e *Encrypted) SendVectored(bufs [][]byte) (int, error) {
	if e.Session == nil {
		return 0, api.ErrTransportClosed
	}
	return linearize(e.Session.Write, bufs)
}

// SendFile always fails with api.ErrUnsupported; callers use the buffered path.
func (e *Encrypted) SendFile(int, *int64, int) (int, error) {
	return 0, api.ErrUnsupported
}

// Encrypted reports true.
func (e *Encrypted) Encrypted() bool { return true }
