// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"fmt"
	"io"
	"os"
)

// FileStorage keeps the block in a regular file, rewritten and synced on Save.
type FileStorage struct {
	path string
	file *os.File
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the block from the file, creating it if necessary.
func (fs *FileStorage) Load() (*Block, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	if err := f.Truncate(BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to resize file: %w", err)
	}

	data := make([]byte, BlockSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	fs.file = f

	return newBlock(data)
}

// Save writes the block and syncs it to disk.
func (fs *FileStorage) Save(b *Block) error {
	if fs.file == nil {
		return fmt.Errorf("file storage not loaded")
	}
	if _, err := fs.file.WriteAt(b.data, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
