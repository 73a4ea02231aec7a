// File: coro/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle encoding. A Handle travels through the kernel verbatim as the
// completion tag, so routing a completion back to its coroutine is a decode
// and an array index, never a lookup.

package coro

import "fmt"

// Tag layout, most significant bits first: manager:8 | slot:24 | generation:32.
const (
	generationBits = 32
	slotBits       = 24
	managerBits    = 8

	slotShift    = generationBits
	managerShift = generationBits + slotBits

	// MaxManagers bounds manager indices to 0..MaxManagers-1. Index 255 is
	// withheld so that no encoding reaches the reserved tag range.
	MaxManagers = 1<<managerBits - 1
	// MaxSlots bounds the capacity of a single manager.
	MaxSlots = 1 << slotBits

	// NonCoroutineTagBase starts the reserved tag range used by
	// administrative ring operations that belong to no coroutine.
	NonCoroutineTagBase uint64 = 0xFFFF_FFFF_FFFF_0000
)

// Handle identifies one incarnation of a coroutine slot.
type Handle struct {
	Slot       uint32
	Generation uint32
	Manager    uint8
}

// NewHandle validates the triple against the encoded bit widths.
func NewHandle(manager uint8, slot, generation uint32) (Handle, error) {
	if manager >= MaxManagers {
		return Handle{}, fmt.Errorf("manager index %d out of range [0,%d)", manager, MaxManagers)
	}
	if slot >= MaxSlots {
		return Handle{}, fmt.Errorf("slot index %d out of range [0,%d)", slot, MaxSlots)
	}
	return Handle{Manager: manager, Slot: slot, Generation: generation}, nil
}

// Tag encodes the handle as a completion ring tag.
func (h Handle) Tag() uint64 {
	return uint64(h.Manager)<<managerShift |
		uint64(h.Slot&(MaxSlots-1))<<slotShift |
		uint64(h.Generation)
}

func (h Handle) String() string {
	return fmt.Sprintf("coro(m=%d s=%d g=%d)", h.Manager, h.Slot, h.Generation)
}

// Wrap decodes a coroutine tag. The result is meaningless for tags where
// IsNotForACoroutine reports true.
func Wrap(tag uint64) Handle {
	return Handle{
		Manager:    uint8(tag >> managerShift),
		Slot:       uint32(tag>>slotShift) & (MaxSlots - 1),
		Generation: uint32(tag),
	}
}

// IsNotForACoroutine reports whether tag lies in the reserved administrative range.
func IsNotForACoroutine(tag uint64) bool {
	return tag >= NonCoroutineTagBase
}

// AdminTag returns the n-th reserved non-coroutine tag.
func AdminTag(n uint16) uint64 {
	return NonCoroutineTagBase | uint64(n)
}
