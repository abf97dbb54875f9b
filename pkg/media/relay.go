// Copyright 2024-2026 Aiku AI

package media

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/federation-bridge/pkg/bridge"
)

// Repository is the part of the federation transport that stores media.
type Repository interface {
	UploadMedia(ctx context.Context, sender id.UserID, data []byte, mimeType, fileName string) (id.ContentURIString, error)
	DownloadMedia(ctx context.Context, uri id.ContentURIString) (io.ReadCloser, error)
}

// Relay implements bridge.MediaService on a FileStore and a Repository.
type Relay struct {
	files *FileStore
	repo  Repository
	log   zerolog.Logger
}

var _ bridge.MediaService = (*Relay)(nil)

func NewRelay(files *FileStore, repo Repository, log zerolog.Logger) *Relay {
	return &Relay{
		files: files,
		repo:  repo,
		log:   log.With().Str("component", "media").Logger(),
	}
}

func (r *Relay) PrepareLocalFile(ctx context.Context, file bridge.File, sender id.UserID) (id.ContentURIString, error) {
	data, err := r.files.Read(file.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read local file %s: %w", file.ID, err)
	}
	name, mimeType := file.Name, file.MimeType
	if name == "" || mimeType == "" {
		if meta, err := r.files.Meta(file.ID); err == nil {
			name = firstNonEmpty(name, meta.Name)
			mimeType = firstNonEmpty(mimeType, meta.MimeType)
		}
	}
	if name == "" {
		name = "upload"
	}
	uri, err := r.repo.UploadMedia(ctx, sender, data, mimeType, name)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", file.ID, err)
	}
	r.log.Debug().
		Str("file_id", file.ID).
		Str("content_uri", string(uri)).
		Int("size", len(data)).
		Msg("Uploaded local file")
	return uri, nil
}

func (r *Relay) DownloadRemoteFile(ctx context.Context, uri id.ContentURIString, meta bridge.RemoteFile) (string, error) {
	if err := r.files.checkSize(meta.Size); err != nil {
		return "", err
	}
	body, err := r.repo.DownloadMedia(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", uri, err)
	}
	defer body.Close()
	data, err := r.files.readAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", uri, err)
	}
	saved, err := r.files.Save(FileMeta{
		Name:     meta.Name,
		MimeType: meta.MimeType,
		RoomID:   meta.RoomID,
		UserID:   meta.UserID,
	}, data)
	if err != nil {
		return "", err
	}
	r.log.Debug().
		Str("file_id", saved.ID).
		Str("content_uri", string(uri)).
		Int64("size", saved.Size).
		Msg("Stored remote file")
	return saved.ID, nil
}

func (r *Relay) RemoveLocalFile(_ context.Context, fileID string) error {
	if err := r.files.Delete(fileID); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileID, err)
	}
	r.log.Debug().Str("file_id", fileID).Msg("Deleted local file")
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
