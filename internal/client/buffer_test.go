package client_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_CursorsAndClamping(t *testing.T) {
	b := client.NewBuffer(8)
	assert.True(t, b.Empty())
	assert.Equal(t, 8, b.Free())

	n, err := b.Write([]byte("abcdefghij"))
	assert.ErrorIs(t, err, client.ErrBufferFull)
	assert.Equal(t, 8, n)
	assert.True(t, b.Full())

	assert.Equal(t, 3, b.Consume(3))
	assert.Equal(t, "defgh", string(b.Bytes()))
	assert.Equal(t, 5, b.Consume(99))
	assert.True(t, b.Empty())
	assert.Equal(t, 8, b.End())
	assert.Zero(t, b.Commit(4))

	b.Reset()
	assert.Zero(t, b.Pos())
	assert.Zero(t, b.End())
}

func TestBuffer_GetcUngetcPutc(t *testing.T) {
	b := client.NewBuffer(2)
	assert.True(t, b.Putc('a'))
	assert.True(t, b.Putc('b'))
	assert.False(t, b.Putc('c'))

	c, ok := b.Getc()
	assert.True(t, ok)
	assert.Equal(t, byte('a'), c)
	assert.True(t, b.Ungetc())
	assert.False(t, b.Ungetc())

	b.Consume(2)
	_, ok = b.Getc()
	assert.False(t, ok)
}

func TestBuffer_PrintfAllOrNothing(t *testing.T) {
	b := client.NewBuffer(16)
	assert.True(t, b.Printf("HTTP/1.1 %d\r\n", 200))
	assert.Equal(t, "HTTP/1.1 200\r\n", string(b.Bytes()))
	assert.False(t, b.Printf("%s", "too long for the rest"))
	assert.Equal(t, 14, b.End())
}

func TestBuffer_Compact(t *testing.T) {
	b := client.NewBuffer(8)
	_, _ = b.Write([]byte("abcdef"))
	b.Consume(4)
	b.Compact()
	assert.Equal(t, 0, b.Pos())
	assert.Equal(t, "ef", string(b.Bytes()))
	assert.Equal(t, 6, b.Free())
}

type scriptedTransport struct {
	chunks [][]byte
	sendN  int
}

func (s *scriptedTransport) Recv(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, api.ErrWouldBlock
	}
	n := copy(p, s.chunks[0])
	s.chunks = s.chunks[1:]
	return n, nil
}

func (s *scriptedTransport) Send(p []byte) (int, error) {
	if s.sendN < len(p) {
		return s.sendN, nil
	}
	return len(p), nil
}

func (s *scriptedTransport) SendVectored(b [][]byte) (int, error) { return 0, api.ErrUnsupported }
func (s *scriptedTransport) SendFile(int, *int64, int) (int, error) {
	return 0, api.ErrUnsupported
}
func (s *scriptedTransport) Encrypted() bool { return false }

func TestBuffer_FillAndDrain(t *testing.T) {
	tr := &scriptedTransport{chunks: [][]byte{[]byte("hello "), []byte("world")}, sendN: 4}
	b := client.NewBuffer(8)

	n, err := b.Fill(tr)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	n, err = b.Fill(tr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, b.Full())
	_, err = b.Fill(tr)
	assert.ErrorIs(t, err, client.ErrBufferFull)

	n, err = b.Drain(tr)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "o wo", string(b.Bytes()))

	tr.sendN = 100
	_, err = b.Drain(tr)
	require.NoError(t, err)
	assert.True(t, b.Empty())
	assert.Zero(t, b.End())

	_, err = b.Fill(tr)
	assert.ErrorIs(t, err, api.ErrWouldBlock)
}

// op encodes one random buffer operation: kind selects the method, n its size.
type op struct {
	Kind int
	N    int
}

func TestBuffer_InvariantProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	genOp := gopter.CombineGens(gen.IntRange(0, 7), gen.IntRange(-4, 64)).Map(func(v []interface{}) op {
		return op{Kind: v[0].(int), N: v[1].(int)}
	})

	properties.Property("0 <= pos <= end <= cap after every operation", prop.ForAll(
		func(capacity int, ops []op) bool {
			b := client.NewBuffer(capacity)
			for _, o := range ops {
				switch o.Kind {
				case 0:
					b.Commit(o.N)
				case 1:
					b.Consume(o.N)
				case 2:
					if o.N > 0 {
						_, _ = b.Write(make([]byte, o.N))
					}
				case 3:
					b.Getc()
				case 4:
					b.Ungetc()
				case 5:
					b.Putc(byte(o.N))
				case 6:
					b.Compact()
				case 7:
					b.Printf("%*d", o.N%20, o.N)
				}
				if b.Pos() < 0 || b.Pos() > b.End() || b.End() > b.Cap() {
					return false
				}
				if len(b.Bytes()) != b.Len() || len(b.Space()) != b.Free() {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 64),
		gen.SliceOf(genOp),
	))

	properties.TestingRun(t)
}
