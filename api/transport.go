// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Transport-agnostic byte I/O contract. Protocol code moves bytes through
// Transport without knowing whether the connection is encrypted.

package api

// Transport is bound to a connection once, when its kind is known, and stays
// fixed for the connection's life.
//
// Result conventions shared by every method:
//   - n > 0 bytes transferred, err == nil
//   - Recv only: 0, nil is an orderly peer shutdown
//   - ErrWouldBlock: retry on the next readiness notification
//   - ErrUnsupported: caller must pick another path (SendFile over TLS)
//   - anything else is a transport failure and ends the connection
type Transport interface {
	Recv(p []byte) (int, error)
	Send(p []byte) (int, error)
	SendVectored(bufs [][]byte) (int, error)
	SendFile(srcFD int, offset *int64, count int) (int, error)
	Encrypted() bool
}

// TLSSession is the record layer of one encrypted connection. Read and Write
// follow the Transport result conventions; Handshake returns nil when done
// and ErrWouldBlock while more readiness events are needed.
type TLSSession interface {
	Handshake() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}
