// Package parcel implements the flat request/reply buffer exchanged in binder
// transactions.
//
// All values are little-endian and every write is padded to a 4 byte
// boundary. Strings are UTF-16 with a length prefix counted in code units
// (-1 for null) and a trailing NUL unit.
package parcel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/valyala/bytebufferpool"
)

// Parcel errors.
var (
	ErrShortRead         = errors.New("parcel: read past end of data")
	ErrBadString         = errors.New("parcel: malformed string16")
	ErrInterfaceMismatch = errors.New("parcel: interface token mismatch")
	ErrRecycled          = errors.New("parcel: use after recycle")
)

const (
	// strictModePenaltyGather is set on every interface token header.
	strictModePenaltyGather uint32 = 1 << 31

	// unsetWorkSource marks a transaction not attributed to another uid.
	unsetWorkSource int32 = -1

	// interfaceHeader is the 'SYST' marker preceding the token string.
	interfaceHeader uint32 = 'S'<<24 | 'Y'<<16 | 'S'<<8 | 'T'
)

var pool bytebufferpool.Pool

// Parcel is a pooled buffer with a read cursor. Obtain one with Obtain and
// always release it with Recycle.
type Parcel struct {
	buf *bytebufferpool.ByteBuffer
	pos int
}

// Obtain returns an empty parcel backed by a pooled buffer.
func Obtain() *Parcel {
	return &Parcel{buf: pool.Get()}
}

// FromBytes returns a pooled parcel holding a copy of data, positioned at 0.
func FromBytes(data []byte) *Parcel {
	p := Obtain()
	p.SetBytes(data)
	return p
}

// Recycle returns the backing buffer to the pool. Recycling twice is a no-op.
func (p *Parcel) Recycle() {
	if p == nil || p.buf == nil {
		return
	}
	pool.Put(p.buf)
	p.buf = nil
	p.pos = 0
}

// Recycled reports whether the parcel has been released.
func (p *Parcel) Recycled() bool {
	return p.buf == nil
}

// Bytes returns the marshaled contents. The slice is only valid until the
// parcel is recycled.
func (p *Parcel) Bytes() []byte {
	if p.buf == nil {
		return nil
	}
	return p.buf.B
}

// SetBytes replaces the contents with a copy of data and rewinds.
func (p *Parcel) SetBytes(data []byte) {
	if p.buf == nil {
		p.buf = pool.Get()
	}
	p.buf.Reset()
	_, _ = p.buf.Write(data)
	p.pos = 0
}

// Len returns the number of bytes written.
func (p *Parcel) Len() int {
	if p.buf == nil {
		return 0
	}
	return p.buf.Len()
}

// Position returns the read cursor.
func (p *Parcel) Position() int {
	return p.pos
}

// SetPosition moves the read cursor.
func (p *Parcel) SetPosition(pos int) error {
	if pos < 0 || pos > p.Len() {
		return fmt.Errorf("%w: position %d of %d", ErrShortRead, pos, p.Len())
	}
	p.pos = pos
	return nil
}

// Remaining returns the number of unread bytes.
func (p *Parcel) Remaining() int {
	return p.Len() - p.pos
}

// WriteInt32 appends a 32-bit integer.
func (p *Parcel) WriteInt32(v int32) {
	p.writeUint32(uint32(v))
}

func (p *Parcel) writeUint32(v uint32) {
	if p.buf == nil {
		panic(ErrRecycled)
	}
	p.buf.B = binary.LittleEndian.AppendUint32(p.buf.B, v)
}

// WriteBool appends a boolean encoded as an int32 (1 or 0).
func (p *Parcel) WriteBool(v bool) {
	if v {
		p.WriteInt32(1)
		return
	}
	p.WriteInt32(0)
}

// WriteString16 appends s as a UTF-16 string.
func (p *Parcel) WriteString16(s string) {
	units := utf16.Encode([]rune(s))
	p.WriteInt32(int32(len(units)))
	for _, u := range units {
		p.buf.B = binary.LittleEndian.AppendUint16(p.buf.B, u)
	}
	p.buf.B = binary.LittleEndian.AppendUint16(p.buf.B, 0)
	p.pad()
}

// WriteNullString16 appends a null string.
func (p *Parcel) WriteNullString16() {
	p.WriteInt32(-1)
}

func (p *Parcel) pad() {
	for len(p.buf.B)%4 != 0 {
		p.buf.B = append(p.buf.B, 0)
	}
}

// ReadInt32 reads a 32-bit integer.
func (p *Parcel) ReadInt32() (int32, error) {
	v, err := p.readUint32()
	return int32(v), err
}

func (p *Parcel) readUint32() (uint32, error) {
	if p.buf == nil {
		return 0, ErrRecycled
	}
	if p.Remaining() < 4 {
		return 0, ErrShortRead
	}
	v := binary.LittleEndian.Uint32(p.buf.B[p.pos:])
	p.pos += 4
	return v, nil
}

// ReadBool reads an int32 and reports whether it is non-zero.
func (p *Parcel) ReadBool() (bool, error) {
	v, err := p.ReadInt32()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadString16 reads a string; a null string reads as "".
func (p *Parcel) ReadString16() (string, error) {
	s, _, err := p.ReadNullableString16()
	return s, err
}

// ReadNullableString16 reads a string and reports whether it was null.
func (p *Parcel) ReadNullableString16() (s string, null bool, err error) {
	n, err := p.ReadInt32()
	if err != nil {
		return "", false, err
	}
	if n == -1 {
		return "", true, nil
	}
	if n < 0 {
		return "", false, fmt.Errorf("%w: length %d", ErrBadString, n)
	}

	size := (int(n) + 1) * 2
	padded := (size + 3) &^ 3
	if p.Remaining() < padded {
		return "", false, ErrShortRead
	}

	raw := p.buf.B[p.pos : p.pos+size]
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	if binary.LittleEndian.Uint16(raw[n*2:]) != 0 {
		return "", false, fmt.Errorf("%w: missing terminator", ErrBadString)
	}
	p.pos += padded

	return string(utf16.Decode(units)), false, nil
}

// Skip advances the read cursor by n bytes.
func (p *Parcel) Skip(n int) error {
	if n < 0 || p.Remaining() < n {
		return ErrShortRead
	}
	p.pos += n
	return nil
}

// WriteInterfaceToken writes the request header naming the remote contract.
func (p *Parcel) WriteInterfaceToken(token string) {
	p.writeUint32(strictModePenaltyGather)
	p.WriteInt32(unsetWorkSource)
	p.writeUint32(interfaceHeader)
	p.WriteString16(token)
}

// EnforceInterface reads the request header and checks that it names token.
func (p *Parcel) EnforceInterface(token string) error {
	if _, err := p.readUint32(); err != nil {
		return err
	}
	if _, err := p.ReadInt32(); err != nil {
		return err
	}
	header, err := p.readUint32()
	if err != nil {
		return err
	}
	if header != interfaceHeader {
		return fmt.Errorf("%w: bad header 0x%08x", ErrInterfaceMismatch, header)
	}
	got, err := p.ReadString16()
	if err != nil {
		return err
	}
	if got != token {
		return fmt.Errorf("%w: expected %q, got %q", ErrInterfaceMismatch, token, got)
	}
	return nil
}
