// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"log/slog"
	"sync"

	"github.com/ffutop/is4320-bridge/internal/is4320"
)

// Recorder mirrors engine events into a snapshot block.
// It implements is4320.Reporter.
type Recorder struct {
	mu      sync.Mutex
	storage Storage
	block   *Block
}

// NewRecorder loads the block from storage and marks it as booting.
// Values of a previous run are kept until overwritten.
func NewRecorder(s Storage) (*Recorder, error) {
	b, err := s.Load()
	if err != nil {
		return nil, err
	}
	r := &Recorder{storage: s, block: b}

	r.mu.Lock()
	defer r.mu.Unlock()
	b.Set(SlotPhase, PhaseBoot)
	b.Set(SlotDetectFailures, 0)
	r.save()
	return r, nil
}

func (r *Recorder) Detection(ev is4320.DetectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Found {
		r.block.Set(SlotPhase, PhaseRunning)
		r.block.Set(SlotChipID, ev.ChipID)
		r.block.Set(SlotChipRev, ev.ChipRev)
	} else {
		r.block.Set(SlotPhase, PhaseDetecting)
		// saturate instead of wrapping
		if n := r.block.Get(SlotDetectFailures); n < 0xFFFF {
			r.block.Set(SlotDetectFailures, n+1)
		}
	}
	r.save()
}

func (r *Recorder) Outcome(o is4320.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.block.Set(SlotLastStatus, o.Status)
	r.block.Set(SlotOutcomeKind, uint16(o.Kind))
	if o.HasValue {
		r.block.Set(SlotValueValid, 1)
		r.block.Set(SlotValue, o.Value)
	} else {
		r.block.Set(SlotValueValid, 0)
	}
	// 32-bit mirror of the cycle counter, see the layout.
	r.block.Set(SlotCycleHigh, uint16(o.Cycle>>16))
	r.block.Set(SlotCycleLow, uint16(o.Cycle))
	r.save()
}

// Snapshot returns the current block content.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.block.Snapshot()
}

// Close releases the storage.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storage.Close()
}

// save persists the block. Caller must hold the mutex.
func (r *Recorder) save() {
	if err := r.storage.Save(r.block); err != nil {
		slog.Error("Failed to save snapshot", "err", err)
	}
}
