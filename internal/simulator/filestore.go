// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package simulator

import (
	"fmt"
	"sync"
)

const (
	// fileCount is how many extended-memory files the simulated slave
	// exposes, numbered 1 through fileCount.
	fileCount = 6
	// recordsPerFile bounds record addressing within one file.
	recordsPerFile = 10000
)

// FileStore is the extended-memory file area of a simulated slave: a set of
// numbered files, each holding 16-bit records (function codes 20, 21).
type FileStore struct {
	mu    sync.RWMutex
	files [fileCount][]uint16
}

// NewFileStore creates a FileStore with all records zeroed.
func NewFileStore() *FileStore {
	fs := &FileStore{}
	for i := range fs.files {
		fs.files[i] = make([]uint16, recordsPerFile)
	}
	return fs
}

// ReadRecords reads count records from a file starting at recordNumber.
func (fs *FileStore) ReadRecords(fileNumber, recordNumber, count uint16) ([]uint16, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	file, err := fs.file(fileNumber)
	if err != nil {
		return nil, err
	}
	if err := validateRecordRange(recordNumber, count); err != nil {
		return nil, err
	}

	result := make([]uint16, count)
	copy(result, file[recordNumber:])
	return result, nil
}

// WriteRecords writes records to a file starting at recordNumber.
func (fs *FileStore) WriteRecords(fileNumber, recordNumber uint16, records []uint16) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	file, err := fs.file(fileNumber)
	if err != nil {
		return err
	}
	if err := validateRecordRange(recordNumber, uint16(len(records))); err != nil {
		return err
	}

	copy(file[recordNumber:], records)
	return nil
}

func (fs *FileStore) file(fileNumber uint16) ([]uint16, error) {
	if fileNumber < 1 || fileNumber > fileCount {
		return nil, fmt.Errorf("file number %d must be between 1 and %d", fileNumber, fileCount)
	}
	return fs.files[fileNumber-1], nil
}

func validateRecordRange(recordNumber, count uint16) error {
	if count == 0 {
		return fmt.Errorf("record count must be greater than 0")
	}
	if uint32(recordNumber)+uint32(count) >= recordsPerFile {
		return fmt.Errorf("record range %d-%d exceeds maximum", recordNumber, uint32(recordNumber)+uint32(count)-1)
	}
	return nil
}
