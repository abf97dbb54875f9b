// Copyright 2024-2026 Aiku AI

package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/federation-bridge/pkg/bridge"
)

type fakeRepo struct {
	uploads map[id.ContentURIString][]byte
	names   []string
	types   []string
	// streams are served instead of uploads when set.
	streams map[id.ContentURIString]io.Reader
	err     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{uploads: make(map[id.ContentURIString][]byte)}
}

func (f *fakeRepo) UploadMedia(_ context.Context, _ id.UserID, data []byte, mimeType, fileName string) (id.ContentURIString, error) {
	if f.err != nil {
		return "", f.err
	}
	uri := id.ContentURIString("mxc://home.example/" + fileName)
	f.uploads[uri] = data
	f.names = append(f.names, fileName)
	f.types = append(f.types, mimeType)
	return uri, nil
}

func (f *fakeRepo) DownloadMedia(_ context.Context, uri id.ContentURIString) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	if stream, ok := f.streams[uri]; ok {
		return io.NopCloser(stream), nil
	}
	data, ok := f.uploads[uri]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// countingReader counts how many bytes were read from it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func newTestFileStore(t *testing.T, maxSize int64) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), maxSize)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	fs := newTestFileStore(t, 8)

	meta, err := fs.Save(FileMeta{Name: "a.txt", MimeType: "text/plain"}, []byte("hello"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.ID == "" || meta.Size != 5 {
		t.Errorf("meta = %+v", meta)
	}
	data, err := fs.Read(meta.ID)
	if err != nil || string(data) != "hello" {
		t.Errorf("Read = %q, %v", data, err)
	}
	got, err := fs.Meta(meta.ID)
	if err != nil || got.Name != "a.txt" || got.MimeType != "text/plain" {
		t.Errorf("Meta = %+v, %v", got, err)
	}

	if _, err = fs.Save(FileMeta{Name: "big"}, []byte("123456789")); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("oversized Save err = %v", err)
	}
	if _, err = fs.Read("../etc/passwd"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("traversal err = %v", err)
	}
	if _, err = fs.Read("missing"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing err = %v", err)
	}

	if err = fs.Delete(meta.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err = fs.Delete(meta.ID); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, err = fs.Meta(meta.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Meta after delete err = %v", err)
	}
}

func TestRelayRoundTrip(t *testing.T) {
	t.Parallel()
	fs := newTestFileStore(t, 0)
	repo := newFakeRepo()
	relay := NewRelay(fs, repo, zerolog.Nop())
	ctx := context.Background()

	local, err := fs.Save(FileMeta{Name: "pic.png", MimeType: "image/png"}, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	uri, err := relay.PrepareLocalFile(ctx, bridge.File{ID: local.ID, Name: "pic.png", MimeType: "image/png"}, "@alice:home.example")
	if err != nil {
		t.Fatalf("PrepareLocalFile: %v", err)
	}
	if uri != "mxc://home.example/pic.png" {
		t.Errorf("uri = %s", uri)
	}

	fileID, err := relay.DownloadRemoteFile(ctx, uri, bridge.RemoteFile{Name: "copy.png", MimeType: "image/png", Size: 3, RoomID: "r1", UserID: "u1"})
	if err != nil {
		t.Fatalf("DownloadRemoteFile: %v", err)
	}
	if fileID == local.ID {
		t.Error("download must create a new file")
	}
	data, _ := fs.Read(fileID)
	if !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("downloaded data = %v", data)
	}
	if meta, _ := fs.Meta(fileID); meta.RoomID != "r1" || meta.Name != "copy.png" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestRelayErrors(t *testing.T) {
	t.Parallel()
	fs := newTestFileStore(t, 4)
	repo := newFakeRepo()
	relay := NewRelay(fs, repo, zerolog.Nop())
	ctx := context.Background()

	if _, err := relay.PrepareLocalFile(ctx, bridge.File{ID: "missing"}, "@alice:home.example"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing local file err = %v", err)
	}
	if _, err := relay.DownloadRemoteFile(ctx, "mxc://home.example/x", bridge.RemoteFile{Size: 10}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("declared oversize err = %v", err)
	}
	repo.uploads["mxc://home.example/big"] = []byte("toolong")
	if _, err := relay.DownloadRemoteFile(ctx, "mxc://home.example/big", bridge.RemoteFile{}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("actual oversize err = %v", err)
	}

	local, _ := fs.Save(FileMeta{}, []byte("ok"))
	repo.err = errors.New("boom")
	if _, err := relay.PrepareLocalFile(ctx, bridge.File{ID: local.ID}, "@alice:home.example"); err == nil {
		t.Error("expected upload error")
	}
	if len(repo.names) != 0 {
		t.Errorf("uploads = %v", repo.names)
	}
}

func TestRelayStopsReadingOversizedDownload(t *testing.T) {
	t.Parallel()
	fs := newTestFileStore(t, 4)
	repo := newFakeRepo()
	body := &countingReader{r: bytes.NewReader(bytes.Repeat([]byte("x"), 1<<20))}
	repo.streams = map[id.ContentURIString]io.Reader{"mxc://remote.example/huge": body}
	relay := NewRelay(fs, repo, zerolog.Nop())

	// The declared size is small, only the body gives the size away.
	_, err := relay.DownloadRemoteFile(context.Background(), "mxc://remote.example/huge", bridge.RemoteFile{Size: 2})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
	if body.n > fs.MaxSize+1 {
		t.Errorf("read %d bytes, want at most %d", body.n, fs.MaxSize+1)
	}
}

func TestRelayFillsMissingMetadata(t *testing.T) {
	t.Parallel()
	fs := newTestFileStore(t, 0)
	repo := newFakeRepo()
	relay := NewRelay(fs, repo, zerolog.Nop())

	local, err := fs.Save(FileMeta{Name: "notes.txt", MimeType: "text/plain"}, []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = relay.PrepareLocalFile(context.Background(), bridge.File{ID: local.ID}, "@alice:home.example"); err != nil {
		t.Fatalf("PrepareLocalFile: %v", err)
	}
	if len(repo.names) != 1 || repo.names[0] != "notes.txt" || repo.types[0] != "text/plain" {
		t.Errorf("uploaded %v %v, want notes.txt text/plain", repo.names, repo.types)
	}
}

func TestRelayRemoveLocalFile(t *testing.T) {
	t.Parallel()
	fs := newTestFileStore(t, 0)
	relay := NewRelay(fs, newFakeRepo(), zerolog.Nop())
	ctx := context.Background()

	local, err := fs.Save(FileMeta{Name: "a"}, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if err = relay.RemoveLocalFile(ctx, local.ID); err != nil {
		t.Fatalf("RemoveLocalFile: %v", err)
	}
	if _, err = fs.Read(local.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Read after remove err = %v", err)
	}
	if err = relay.RemoveLocalFile(ctx, "../x"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("invalid ID err = %v", err)
	}
}
