package binary

import (
	"fmt"
	"io"

	"github.com/wasilibs/go-wizer/internal/leb128"
	"github.com/wasilibs/go-wizer/internal/wasm"
)

// reader is a cursor over one section payload.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) len() int { return len(r.buf) - r.pos }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) skip(n int) error {
	if r.pos+n > len(r.buf) {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	v, n, err := leb128.LoadUint32(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += int(n)
	return v, nil
}

func (r *reader) int32() (int32, error) {
	v, n, err := leb128.LoadInt32(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += int(n)
	return v, nil
}

func (r *reader) int64() (int64, error) {
	v, n, err := leb128.LoadInt64(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += int(n)
	return v, nil
}

func (r *reader) name() (string, error) {
	size, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(size))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// limits reads a limits type, returning the minimum and optional maximum.
func (r *reader) limits() (min uint32, max *uint32, err error) {
	flag, err := r.byte()
	if err != nil {
		return 0, nil, err
	}
	switch flag {
	case 0x00:
		min, err = r.uint32()
	case 0x01:
		if min, err = r.uint32(); err != nil {
			return
		}
		var m uint32
		if m, err = r.uint32(); err != nil {
			return
		}
		max = &m
	default:
		err = fmt.Errorf("invalid limits flag %#x", flag)
	}
	return
}

// constantExpression reads one initializer expression, retaining the
// immediate bytes undecoded, and consumes the terminating end opcode.
func (r *reader) constantExpression() (*wasm.ConstantExpression, error) {
	opcode, err := r.byte()
	if err != nil {
		return nil, err
	}
	start := r.pos
	switch opcode {
	case wasm.OpcodeI32Const:
		_, err = r.int32()
	case wasm.OpcodeI64Const:
		_, err = r.int64()
	case wasm.OpcodeF32Const:
		err = r.skip(4)
	case wasm.OpcodeF64Const:
		err = r.skip(8)
	case wasm.OpcodeGlobalGet:
		_, err = r.uint32()
	default:
		return nil, fmt.Errorf("invalid opcode %#x in constant expression", opcode)
	}
	if err != nil {
		return nil, err
	}
	data := r.buf[start:r.pos]
	end, err := r.byte()
	if err != nil {
		return nil, err
	}
	if end != wasm.OpcodeEnd {
		return nil, fmt.Errorf("constant expression has been not terminated")
	}
	return &wasm.ConstantExpression{Opcode: opcode, Data: data}, nil
}
