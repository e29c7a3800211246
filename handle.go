package encprofile

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// ValueType is the declared width of an encrypted value.
type ValueType uint8

const (
	TypeBool ValueType = iota
	TypeUint8
	TypeUint16
	TypeUint32
)

func (t ValueType) MaxValue() uint64 {
	switch t {
	case TypeBool:
		return 1
	case TypeUint8:
		return 1<<8 - 1
	case TypeUint16:
		return 1<<16 - 1
	case TypeUint32:
		return 1<<32 - 1
	}
	return 0
}

func (t ValueType) Valid() bool {
	return t <= TypeUint32
}

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint8:
		return "euint8"
	case TypeUint16:
		return "euint16"
	case TypeUint32:
		return "euint32"
	}
	return fmt.Sprintf("etype(%d)", uint8(t))
}

const handleVersion = 0

// Handle is an opaque reference to a stored ciphertext. The last two bytes
// carry the value type and the handle format version.
type Handle [32]byte

// deriveHandle hashes the operation, the operand handles and a nonce with
// Keccak-256 and stamps the type bytes.
func deriveHandle(op string, t ValueType, nonce uint64, operands ...Handle) Handle {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(op))
	for _, o := range operands {
		hasher.Write(o[:])
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	hasher.Write(n[:])

	var h Handle
	hasher.Sum(h[:0])
	h[30] = byte(t)
	h[31] = handleVersion
	return h
}

func (h Handle) Type() ValueType {
	return ValueType(h[30])
}

func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Bytes returns the opaque 32-byte form handed to callers.
func (h Handle) Bytes() []byte {
	return append([]byte(nil), h[:]...)
}

func (h Handle) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("handle: expected %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return nil
}

// HandleFromBytes parses the opaque form produced by Bytes.
func HandleFromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != len(h) {
		return h, fmt.Errorf("handle: expected %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	if !h.Type().Valid() {
		return h, fmt.Errorf("handle: unknown value type %d", h[30])
	}
	return h, nil
}
