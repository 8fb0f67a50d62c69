// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"fmt"
	"log/slog"
)

// Storage keeps the snapshot block.
type Storage interface {
	// Load returns the block, backed by the storage where possible.
	// A new storage yields a zeroed block.
	Load() (*Block, error)

	// Save makes the current block content durable.
	Save(b *Block) error

	Close() error
}

// NewStorage creates the storage named by typ ("memory", "file", "mmap").
func NewStorage(typ, path string) (Storage, error) {
	switch typ {
	case "", "memory":
		slog.Info("Initializing snapshot with memory storage (non-persistent)")
		return NewMemoryStorage(), nil
	case "file":
		slog.Info("Initializing snapshot with file persistence", "path", path)
		return NewFileStorage(path), nil
	case "mmap":
		slog.Info("Initializing snapshot with MMAP persistence", "path", path)
		return NewMmapStorage(path), nil
	default:
		return nil, fmt.Errorf("unknown snapshot storage %q", typ)
	}
}
