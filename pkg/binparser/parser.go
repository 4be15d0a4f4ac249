// Package binparser implements a stateful positional byte reader: a
// declarative schema of skip and typed-field entries drives a single pass
// over a fixed account-data buffer. DEX pool layouts are fixed-offset,
// C-struct-like records; a declarative schema keeps the per-DEX decoders
// in pkg/pool short and auditable instead of repeating hand-rolled offset
// math everywhere.
package binparser

import (
	"encoding/binary"

	b58 "github.com/mr-tron/base58"
	"lukechampine.com/uint128"
)

// Tag identifies a typed field. A Field with a positive Skip instead means
// "skip this many bytes"; Name is ignored for skips.
type Tag string

const (
	U8     Tag = "u8"
	Bool   Tag = "bool"
	U16    Tag = "u16"
	U24    Tag = "u24"
	U32    Tag = "u32"
	I32    Tag = "i32"
	U64    Tag = "u64"
	I64    Tag = "i64"
	U128   Tag = "u128"
	Pubkey Tag = "pubkey"
)

// Field is one schema entry. Set Skip for a byte-skip entry, or Tag (and
// Name) for a typed read.
type Field struct {
	Skip int
	Tag  Tag
	Name string
}

// SkipField returns a schema entry that advances the cursor by n bytes
// without producing a value.
func SkipField(n int) Field { return Field{Skip: n} }

// TypedField returns a schema entry that reads a value of the given tag
// into the result map under name.
func TypedField(tag Tag, name string) Field { return Field{Tag: tag, Name: name} }

// Parser is a stateful positional reader over a byte buffer.
type Parser struct {
	data   []byte
	cursor int
}

// New creates a parser starting at the given offset.
func New(data []byte, start int) *Parser {
	return &Parser{data: data, cursor: start}
}

// Read runs the schema against the buffer. It returns ok=false (the
// absence sentinel) if any read would exceed the buffer — the decode is
// failed wholesale rather than returning a partial result.
func (p *Parser) Read(schema []Field) (map[string]any, bool) {
	out := make(map[string]any, len(schema))
	for _, f := range schema {
		if f.Skip > 0 {
			if !p.advance(f.Skip) {
				return nil, false
			}
			continue
		}
		v, ok := p.readTyped(f.Tag)
		if !ok {
			return nil, false
		}
		out[f.Name] = v
	}
	return out, true
}

func (p *Parser) advance(n int) bool {
	if p.cursor+n > len(p.data) || p.cursor+n < 0 {
		return false
	}
	p.cursor += n
	return true
}

func (p *Parser) readTyped(tag Tag) (any, bool) {
	switch tag {
	case U8:
		b, ok := p.take(1)
		if !ok {
			return nil, false
		}
		return b[0], true
	case Bool:
		b, ok := p.take(1)
		if !ok {
			return nil, false
		}
		return b[0] != 0, true
	case U16:
		b, ok := p.take(2)
		if !ok {
			return nil, false
		}
		return binary.LittleEndian.Uint16(b), true
	case U24:
		b, ok := p.take(3)
		if !ok {
			return nil, false
		}
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, true
	case U32:
		b, ok := p.take(4)
		if !ok {
			return nil, false
		}
		return binary.LittleEndian.Uint32(b), true
	case I32:
		b, ok := p.take(4)
		if !ok {
			return nil, false
		}
		return int32(binary.LittleEndian.Uint32(b)), true
	case U64:
		b, ok := p.take(8)
		if !ok {
			return nil, false
		}
		return binary.LittleEndian.Uint64(b), true
	case I64:
		b, ok := p.take(8)
		if !ok {
			return nil, false
		}
		return int64(binary.LittleEndian.Uint64(b)), true
	case U128:
		b, ok := p.take(16)
		if !ok {
			return nil, false
		}
		lo := binary.LittleEndian.Uint64(b[:8])
		hi := binary.LittleEndian.Uint64(b[8:])
		return uint128.New(lo, hi), true
	case Pubkey:
		b, ok := p.take(32)
		if !ok {
			return nil, false
		}
		return b58.Encode(b), true
	default:
		return nil, false
	}
}

func (p *Parser) take(n int) ([]byte, bool) {
	if p.cursor+n > len(p.data) {
		return nil, false
	}
	b := p.data[p.cursor : p.cursor+n]
	p.cursor += n
	return b, true
}
