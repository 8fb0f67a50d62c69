// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"encoding/binary"
	"fmt"
)

// Snapshot block layout. Every slot is a big-endian uint16.
// SlotCycleHigh and SlotCycleLow hold the low 32 bits of the engine cycle
// counter; the mirrored value wraps to 0 after 0xFFFFFFFF.
const (
	SlotPhase          = 0
	SlotChipID         = 1
	SlotChipRev        = 2
	SlotLastStatus     = 3
	SlotOutcomeKind    = 4
	SlotValueValid     = 5
	SlotValue          = 6
	SlotCycleHigh      = 7
	SlotCycleLow       = 8
	SlotDetectFailures = 9

	SlotsPerBlock = 10
	BlockSize     = SlotsPerBlock * 2
)

// Phases reported in SlotPhase.
const (
	PhaseBoot      uint16 = 0
	PhaseDetecting uint16 = 1
	PhaseRunning   uint16 = 2
)

// Block is a view over the storage bytes of one snapshot.
type Block struct {
	data []byte
}

func newBlock(data []byte) (*Block, error) {
	if len(data) < BlockSize {
		return nil, fmt.Errorf("snapshot block too short: %d bytes, want %d", len(data), BlockSize)
	}
	return &Block{data: data[:BlockSize]}, nil
}

func (b *Block) Get(slot int) uint16 {
	return binary.BigEndian.Uint16(b.data[slot*2:])
}

func (b *Block) Set(slot int, v uint16) {
	binary.BigEndian.PutUint16(b.data[slot*2:], v)
}

// Snapshot is the decoded content of a block.
type Snapshot struct {
	Phase          uint16
	ChipID         uint16
	ChipRev        uint16
	LastStatus     uint16
	OutcomeKind    uint16
	ValueValid     bool
	Value          uint16
	Cycle          uint32
	DetectFailures uint16
}

// Decode reads a snapshot from raw block bytes, e.g. a mapped snapshot file.
func Decode(data []byte) (Snapshot, error) {
	b, err := newBlock(data)
	if err != nil {
		return Snapshot{}, err
	}
	return b.Snapshot(), nil
}

func (b *Block) Snapshot() Snapshot {
	return Snapshot{
		Phase:          b.Get(SlotPhase),
		ChipID:         b.Get(SlotChipID),
		ChipRev:        b.Get(SlotChipRev),
		LastStatus:     b.Get(SlotLastStatus),
		OutcomeKind:    b.Get(SlotOutcomeKind),
		ValueValid:     b.Get(SlotValueValid) != 0,
		Value:          b.Get(SlotValue),
		Cycle:          uint32(b.Get(SlotCycleHigh))<<16 | uint32(b.Get(SlotCycleLow)),
		DetectFailures: b.Get(SlotDetectFailures),
	}
}
