// Copyright 2024-2026 Aiku AI

package bridge

import (
	"net/url"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// msgTypeForMIME derives the coarse federation message type from a MIME
// type's top-level type.
func msgTypeForMIME(mimeType string) event.MessageType {
	mainType, _, _ := strings.Cut(mimeType, "/")
	switch mainType {
	case "image":
		return event.MsgImage
	case "video":
		return event.MsgVideo
	case "audio":
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}

func isMediaMsgType(t event.MessageType) bool {
	switch t {
	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		return true
	}
	return false
}

func fileContent(file File, uri id.ContentURIString) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType: msgTypeForMIME(file.MimeType),
		Body:    file.Name,
		URL:     uri,
		Info: &event.FileInfo{
			MimeType: file.MimeType,
			Size:     int(file.Size),
		},
	}
}

// FileURL is the local download path of a stored file.
func FileURL(fileID, name string) string {
	return "/file-upload/" + fileID + "/" + url.PathEscape(name)
}

// fileAttachment builds the attachment for a downloaded federation file.
// The kind-specific fields follow the federation message type.
func fileAttachment(fileID, name string, msgType event.MessageType, info *event.FileInfo) Attachment {
	link := FileURL(fileID, name)
	att := Attachment{
		Kind:              AttachmentFile,
		Title:             name,
		TitleLink:         link,
		TitleLinkDownload: true,
	}
	var mimeType string
	var size int64
	if info != nil {
		mimeType = info.MimeType
		size = int64(info.Size)
	}
	switch msgType {
	case event.MsgImage:
		att.ImageURL, att.ImageType, att.ImageSize = link, mimeType, size
		if info != nil && info.Width > 0 && info.Height > 0 {
			att.ImageDimensions = &ImageDimensions{Width: info.Width, Height: info.Height}
		}
	case event.MsgVideo:
		att.VideoURL, att.VideoType, att.VideoSize = link, mimeType, size
	case event.MsgAudio:
		att.AudioURL, att.AudioType, att.AudioSize = link, mimeType, size
	}
	return att
}
