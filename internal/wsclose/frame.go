// Package wsclose
// Author: momentics <momentics@gmail.com>
//
// Frame encoding and decoding over caller-managed buffers.

package wsclose

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// MaxFramePayload is the largest payload accepted from a peer.
const MaxFramePayload = 1 << 20

var (
	// ErrFrameTooLarge is returned for payloads above MaxFramePayload.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")
	// ErrControlTooLarge is returned for control frames above 125 bytes.
	ErrControlTooLarge = errors.New("control frame payload too large")
)

// Frame is one decoded frame. Payload is unmasked and owned by the frame.
type Frame struct {
	Fin     bool
	Opcode  byte
	Masked  bool
	Payload []byte
}

// IsControl reports whether the opcode is a control opcode.
func (f *Frame) IsControl() bool { return f.Opcode&0x8 != 0 }

// ParseFrame decodes one frame from raw. An incomplete frame yields
// (nil, 0, nil); n is the number of bytes consumed otherwise.
func ParseFrame(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil
	}
	f := &Frame{
		Fin:    raw[0]&FinBit != 0,
		Opcode: raw[0] & 0x0F,
		Masked: raw[1]&MaskBit != 0,
	}
	length := uint64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		offset += 8
	}

	if length > MaxFramePayload {
		return nil, 0, ErrFrameTooLarge
	}
	if f.IsControl() && length > MaxControlPayloadLen {
		return nil, 0, ErrControlTooLarge
	}

	var key [4]byte
	if f.Masked {
		if len(raw) < offset+4 {
			return nil, 0, nil
		}
		copy(key[:], raw[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(raw) < total {
		return nil, 0, nil
	}
	f.Payload = make([]byte, length)
	copy(f.Payload, raw[offset:total])
	if f.Masked {
		for i := range f.Payload {
			f.Payload[i] ^= key[i%4]
		}
	}
	return f, total, nil
}

// AppendFrame appends an unmasked final frame to dst.
func AppendFrame(dst []byte, opcode byte, payload []byte) ([]byte, error) {
	plen := len(payload)
	if plen > MaxFramePayload {
		return dst, ErrFrameTooLarge
	}
	if opcode&0x8 != 0 && plen > MaxControlPayloadLen {
		return dst, ErrControlTooLarge
	}

	dst = append(dst, FinBit|(opcode&0x0F))
	switch {
	case plen <= 125:
		dst = append(dst, byte(plen))
	case plen <= 0xFFFF:
		dst = append(dst, 126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, 127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}
	return append(dst, payload...), nil
}

// ClosePayload builds the body of a close frame. The reason is cut at a
// rune boundary so the body fits a control frame.
func ClosePayload(code uint16, reason string) []byte {
	limit := MaxControlPayloadLen - 2
	if len(reason) > limit {
		reason = reason[:limit]
		for len(reason) > 0 && !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	p := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	return append(p, reason...)
}

// ParseClosePayload splits a close frame body. An empty body means no
// status was sent.
func ParseClosePayload(p []byte) (uint16, string) {
	if len(p) < 2 {
		return CloseNoStatusRcvd, ""
	}
	return binary.BigEndian.Uint16(p), string(p[2:])
}
