package ethereum

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte length of an EVM address.
const AddressLength = 20

// HashLength is the byte length of an EVM hash.
const HashLength = 32

// Address is a 20-byte EVM account or contract address.
type Address [AddressLength]byte

// Hash is a 32-byte EVM hash (block hash, transaction hash, event topic).
type Hash [HashLength]byte

// ParseAddress parses a 0x-prefixed hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := decodeHex(s, AddressLength)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// ParseHash parses a 0x-prefixed hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := decodeHex(s, HashLength)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

// Hex returns the 0x-prefixed lowercase hex representation.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	return a.Hex()
}

// Hex returns the 0x-prefixed lowercase hex representation.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return h.Hex()
}

// AddressFromBytes copies a 20-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// HashFromBytes copies a 32-byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Log is a raw EVM event log as returned by eth_getLogs.
type Log struct {
	Address     Address // emitting contract
	Topics      []Hash  // topic0 is the event signature hash
	Data        []byte  // non-indexed event payload
	BlockNumber uint64
	BlockHash   Hash
	TxHash      Hash
	TxIndex     uint32
	LogIndex    uint32
	Removed     bool // set by some providers for logs reverted by a reorg
}

// BlockHeader is the subset of an EVM block header the indexer needs.
type BlockHeader struct {
	Number     uint64
	Hash       Hash
	ParentHash Hash
	Timestamp  uint64 // seconds since epoch
}

// decodeHex decodes a 0x-prefixed hex string, enforcing an exact byte length.
func decodeHex(s string, want int) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("missing 0x prefix")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, err
	}
	if len(b) != want {
		return nil, fmt.Errorf("expected %d bytes, got %d", want, len(b))
	}
	return b, nil
}
