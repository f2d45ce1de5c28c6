// Package wire defines the fixed-size records exchanged between the broker
// and its clients over the FIFO namespace.
//
// There is no length prefix and no version byte: a record is framed purely by
// its size, so a reader always asks for exactly HandshakeSize or MessageSize
// bytes and treats anything else as a framing failure.
package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// NicknameSize is the capacity of the nickname field in bytes.
	NicknameSize = 32
	// PayloadSize is the capacity of the payload field in bytes.
	PayloadSize = 128

	idSize = 4

	// HandshakeSize is the encoded size of a Handshake record.
	HandshakeSize = idSize + NicknameSize
	// MessageSize is the encoded size of a Message record.
	MessageSize = idSize + NicknameSize + PayloadSize
)

// ErrShortRecord is returned when a buffer does not hold exactly one record.
var ErrShortRecord = errors.New("wire: record size mismatch")

// byteOrder matches the in-memory layout a C peer on the same host would use.
var byteOrder = binary.NativeEndian

// Handshake is the record a client writes to the control channel to register.
type Handshake struct {
	ID       int32
	Nickname [NicknameSize]byte
}

// Message is one line of chat travelling client -> broker -> other clients.
type Message struct {
	ID       int32
	Nickname [NicknameSize]byte
	Payload  [PayloadSize]byte
}

// NewHandshake builds a handshake, truncating the nickname to NicknameSize.
func NewHandshake(id int32, nickname string) Handshake {
	h := Handshake{ID: id}
	copy(h.Nickname[:], nickname)
	return h
}

// NewMessage builds a message, truncating nickname and payload to capacity.
func NewMessage(id int32, nickname, payload string) Message {
	m := Message{ID: id}
	copy(m.Nickname[:], nickname)
	copy(m.Payload[:], payload)
	return m
}

// NicknameString returns the nickname up to the first NUL byte.
func (h Handshake) NicknameString() string {
	return cString(h.Nickname[:])
}

// MarshalBinary encodes the handshake into exactly HandshakeSize bytes.
func (h Handshake) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HandshakeSize)
	byteOrder.PutUint32(buf[:idSize], uint32(h.ID))
	copy(buf[idSize:], h.Nickname[:])
	return buf, nil
}

// UnmarshalBinary decodes a handshake. The input must be exactly HandshakeSize bytes.
func (h *Handshake) UnmarshalBinary(data []byte) error {
	if len(data) != HandshakeSize {
		return errors.Wrapf(ErrShortRecord, "handshake: got %d bytes, want %d", len(data), HandshakeSize)
	}
	h.ID = int32(byteOrder.Uint32(data[:idSize]))
	copy(h.Nickname[:], data[idSize:])
	return nil
}

// NicknameString returns the nickname up to the first NUL byte.
func (m Message) NicknameString() string {
	return cString(m.Nickname[:])
}

// PayloadString returns the payload up to the first NUL byte.
func (m Message) PayloadString() string {
	return cString(m.Payload[:])
}

// SetNickname overwrites the nickname field, clearing any previous bytes.
func (m *Message) SetNickname(nickname string) {
	m.Nickname = [NicknameSize]byte{}
	copy(m.Nickname[:], nickname)
}

// SetPayload overwrites the payload field, clearing any previous bytes.
func (m *Message) SetPayload(payload string) {
	m.Payload = [PayloadSize]byte{}
	copy(m.Payload[:], payload)
}

// MarshalBinary encodes the message into exactly MessageSize bytes.
func (m Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MessageSize)
	byteOrder.PutUint32(buf[:idSize], uint32(m.ID))
	copy(buf[idSize:idSize+NicknameSize], m.Nickname[:])
	copy(buf[idSize+NicknameSize:], m.Payload[:])
	return buf, nil
}

// UnmarshalBinary decodes a message. The input must be exactly MessageSize bytes.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) != MessageSize {
		return errors.Wrapf(ErrShortRecord, "message: got %d bytes, want %d", len(data), MessageSize)
	}
	m.ID = int32(byteOrder.Uint32(data[:idSize]))
	copy(m.Nickname[:], data[idSize:idSize+NicknameSize])
	copy(m.Payload[:], data[idSize+NicknameSize:])
	return nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
