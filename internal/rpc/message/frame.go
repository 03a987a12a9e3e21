// Package message defines the binary frames that carry binder transactions
// over a message transport.
//
// Frame layout (little-endian):
//
//	version u8 | kind u8 | txid u64 | code u32 | flags u32 | status i32 | payload
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the frame format version.
const Version uint8 = 1

// HeaderSize is the fixed size of a frame header.
const HeaderSize = 1 + 1 + 8 + 4 + 4 + 4

// Frame errors.
var (
	ErrShortFrame  = errors.New("frame shorter than header")
	ErrBadVersion  = errors.New("unsupported frame version")
	ErrUnknownKind = errors.New("unknown frame kind")
)

// Kind distinguishes requests from replies.
type Kind uint8

const (
	// KindTransaction is a client-to-service call.
	KindTransaction Kind = 1
	// KindReply answers the transaction with the same TxID.
	KindReply Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTransaction:
		return "transaction"
	case KindReply:
		return "reply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is one transaction or reply.
type Frame struct {
	Kind    Kind
	TxID    uint64
	Code    uint32
	Flags   uint32
	Status  Status
	Payload []byte
}

// NewTransaction creates a transaction frame.
func NewTransaction(txID uint64, code, flags uint32, payload []byte) *Frame {
	return &Frame{
		Kind:    KindTransaction,
		TxID:    txID,
		Code:    code,
		Flags:   flags,
		Payload: payload,
	}
}

// NewReply creates a reply frame for txID.
func NewReply(txID uint64, status Status, payload []byte) *Frame {
	return &Frame{
		Kind:    KindReply,
		TxID:    txID,
		Status:  status,
		Payload: payload,
	}
}

// MarshalBinary encodes the frame. The payload is copied.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if f.Kind != KindTransaction && f.Kind != KindReply {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, f.Kind)
	}

	b := make([]byte, 0, HeaderSize+len(f.Payload))
	b = append(b, Version, byte(f.Kind))
	b = binary.LittleEndian.AppendUint64(b, f.TxID)
	b = binary.LittleEndian.AppendUint32(b, f.Code)
	b = binary.LittleEndian.AppendUint32(b, f.Flags)
	b = binary.LittleEndian.AppendUint32(b, uint32(f.Status))
	b = append(b, f.Payload...)
	return b, nil
}

// UnmarshalBinary decodes data into f. Payload aliases data.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}
	if data[0] != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, data[0])
	}

	kind := Kind(data[1])
	if kind != KindTransaction && kind != KindReply {
		return fmt.Errorf("%w: %d", ErrUnknownKind, data[1])
	}

	f.Kind = kind
	f.TxID = binary.LittleEndian.Uint64(data[2:])
	f.Code = binary.LittleEndian.Uint32(data[10:])
	f.Flags = binary.LittleEndian.Uint32(data[14:])
	f.Status = Status(int32(binary.LittleEndian.Uint32(data[18:])))
	f.Payload = data[HeaderSize:]
	return nil
}

// Decode parses a frame from data.
func Decode(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}
