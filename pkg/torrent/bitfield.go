package torrent

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// Bitfield records which pieces of a torrent are present and verified.
type Bitfield struct {
	bits []byte
	len  int
	mu   sync.RWMutex
}

// NewBitfield creates a new bitfield of the given length.
func NewBitfield(numPieces int) *Bitfield {
	numBytes := (numPieces + 7) / 8
	return &Bitfield{
		bits: make([]byte, numBytes),
		len:  numPieces,
	}
}

// NewBitfieldFromBytes creates a bitfield from raw bytes.
func NewBitfieldFromBytes(data []byte, numPieces int) (*Bitfield, error) {
	expectedBytes := (numPieces + 7) / 8
	if len(data) != expectedBytes {
		return nil, fmt.Errorf("invalid bitfield length: got %d bytes, expected %d", len(data), expectedBytes)
	}

	bf := &Bitfield{
		bits: make([]byte, len(data)),
		len:  numPieces,
	}
	copy(bf.bits, data)

	// spare bits past the last piece must stay clear
	if rem := numPieces % 8; rem != 0 {
		bf.bits[len(bf.bits)-1] &= 0xff << (8 - rem)
	}

	return bf, nil
}

// ParseBitfield decodes the hex form written by Hex.
func ParseBitfield(s string, numPieces int) (*Bitfield, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid bitfield: %w", err)
	}

	return NewBitfieldFromBytes(data, numPieces)
}

// SetPiece marks a piece as available.
func (bf *Bitfield) SetPiece(index int) error {
	return bf.set(index, true)
}

// ClearPiece marks a piece as missing.
func (bf *Bitfield) ClearPiece(index int) error {
	return bf.set(index, false)
}

func (bf *Bitfield) set(index int, on bool) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if index < 0 || index >= bf.len {
		return fmt.Errorf("piece index %d out of range [0, %d)", index, bf.len)
	}

	byteIndex := index / 8
	mask := byte(1) << (7 - uint(index%8))
	if on {
		bf.bits[byteIndex] |= mask
	} else {
		bf.bits[byteIndex] &^= mask
	}
	return nil
}

// HasPiece checks if a piece is available.
func (bf *Bitfield) HasPiece(index int) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	return bf.has(index)
}

func (bf *Bitfield) has(index int) bool {
	if index < 0 || index >= bf.len {
		return false
	}

	byteIndex := index / 8
	bitIndex := uint(index % 8)
	return bf.bits[byteIndex]&(1<<(7-bitIndex)) != 0
}

// Bytes returns the raw bitfield bytes.
func (bf *Bitfield) Bytes() []byte {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	result := make([]byte, len(bf.bits))
	copy(result, bf.bits)
	return result
}

// Hex returns the bitfield as a hex string, the form kept in resume state.
func (bf *Bitfield) Hex() string {
	return hex.EncodeToString(bf.Bytes())
}

// Len returns the number of pieces the bitfield covers.
func (bf *Bitfield) Len() int {
	return bf.len
}

// Count returns the number of pieces marked as available.
func (bf *Bitfield) Count() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	count := 0
	for i := 0; i < bf.len; i++ {
		if bf.has(i) {
			count++
		}
	}
	return count
}

// IsComplete returns true if all pieces are available.
func (bf *Bitfield) IsComplete() bool {
	return bf.Count() == bf.len
}
