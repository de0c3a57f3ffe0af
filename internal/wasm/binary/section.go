package binary

import (
	"fmt"

	"github.com/wasilibs/go-wizer/internal/wasm"
)

// DecodeDataSection decodes the payload of a data section using the bulk
// memory grammar: without it, an active segment targeting memory index one
// is indistinguishable from a passive segment. Callers decide whether a
// passive segment is acceptable; here it only affects decoding.
func DecodeDataSection(payload []byte) ([]*wasm.DataSegment, error) {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	ret := make([]*wasm.DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		prefix, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("data segment %d: %v", i, err)
		}
		segment := &wasm.DataSegment{}
		switch prefix {
		case 0x0: // active, memory index zero
			if segment.OffsetExpression, err = r.constantExpression(); err != nil {
				return nil, fmt.Errorf("data segment %d: read offset expression: %v", i, err)
			}
		case 0x1: // passive
			segment.Passive = true
		case 0x2: // active, explicit memory index
			if segment.MemoryIndex, err = r.uint32(); err != nil {
				return nil, fmt.Errorf("data segment %d: %v", i, err)
			}
			if segment.OffsetExpression, err = r.constantExpression(); err != nil {
				return nil, fmt.Errorf("data segment %d: read offset expression: %v", i, err)
			}
		default:
			return nil, fmt.Errorf("invalid data segment prefix: %#x", prefix)
		}
		size, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("data segment %d: %v", i, err)
		}
		if segment.Init, err = r.bytes(int(size)); err != nil {
			return nil, fmt.Errorf("data segment %d: %v", i, err)
		}
		ret = append(ret, segment)
	}
	return ret, nil
}

// WalkCodeSection walks every instruction of every function body in a code
// section payload. See WalkBody.
func WalkCodeSection(payload []byte, visit func(op, misc wasm.Opcode) error) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		size, err := r.uint32()
		if err != nil {
			return fmt.Errorf("function body %d: %v", i, err)
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return fmt.Errorf("function body %d: %v", i, err)
		}
		if err = WalkBody(body, visit); err != nil {
			return fmt.Errorf("function body %d: %w", i, err)
		}
	}
	return nil
}
