// Copyright 2024-2026 Aiku AI

// Package media moves file contents between the local upload directory and
// the federation media repository.
package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

var (
	ErrFileTooLarge = errors.New("file exceeds the configured size limit")
	ErrFileNotFound = errors.New("file not found")
	ErrInvalidID    = errors.New("invalid file ID")
)

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileMeta is stored next to each file's contents.
type FileMeta struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`
	RoomID   string `json:"room_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// FileStore keeps uploads as flat files in one directory. A MaxSize of zero
// disables the size limit.
type FileStore struct {
	Directory string
	MaxSize   int64
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, maxSize int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &FileStore{Directory: dir, MaxSize: maxSize}, nil
}

func (fs *FileStore) paths(fileID string) (data, meta string, err error) {
	if !fileIDPattern.MatchString(fileID) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, fileID)
	}
	data = filepath.Join(fs.Directory, fileID)
	return data, data + ".json", nil
}

func (fs *FileStore) checkSize(size int64) error {
	if fs.MaxSize > 0 && size > fs.MaxSize {
		return fmt.Errorf("%w (%d > %d bytes)", ErrFileTooLarge, size, fs.MaxSize)
	}
	return nil
}

// readAll reads r up to one byte past MaxSize, failing with ErrFileTooLarge
// instead of buffering the rest.
func (fs *FileStore) readAll(r io.Reader) ([]byte, error) {
	if fs.MaxSize <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, fs.MaxSize+1))
	if err != nil {
		return nil, err
	}
	if err = fs.checkSize(int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

// Save writes data under a new file ID and returns the completed metadata.
func (fs *FileStore) Save(meta FileMeta, data []byte) (*FileMeta, error) {
	if err := fs.checkSize(int64(len(data))); err != nil {
		return nil, err
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.Size = int64(len(data))
	dataPath, metaPath, err := fs.paths(meta.ID)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(&meta)
	if err != nil {
		return nil, err
	}
	if err = os.WriteFile(dataPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write file %s: %w", meta.ID, err)
	}
	if err = os.WriteFile(metaPath, encoded, 0o640); err != nil {
		_ = os.Remove(dataPath)
		return nil, fmt.Errorf("failed to write metadata of %s: %w", meta.ID, err)
	}
	return &meta, nil
}

// Read returns the contents of a stored file.
func (fs *FileStore) Read(fileID string) ([]byte, error) {
	dataPath, _, err := fs.paths(fileID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	} else if err != nil {
		return nil, err
	}
	if err = fs.checkSize(info.Size()); err != nil {
		return nil, err
	}
	return os.ReadFile(dataPath)
}

// Meta returns the metadata of a stored file.
func (fs *FileStore) Meta(fileID string) (*FileMeta, error) {
	_, metaPath, err := fs.paths(fileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	} else if err != nil {
		return nil, err
	}
	var meta FileMeta
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata of %s: %w", fileID, err)
	}
	return &meta, nil
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (fs *FileStore) Delete(fileID string) error {
	dataPath, metaPath, err := fs.paths(fileID)
	if err != nil {
		return err
	}
	for _, path := range []string{dataPath, metaPath} {
		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
