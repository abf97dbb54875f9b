// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"sync/atomic"
)

// Setting keys accepted by ApplySetting.
const (
	SettingServerName      = "federation.domain"
	SettingProcessTyping   = "federation.edu.typing"
	SettingProcessPresence = "federation.edu.presence"
	SettingSiteURL         = "site.url"
)

// Settings is an immutable snapshot of the runtime-mutable bridge flags.
// Readers may briefly see a stale snapshot after a change.
type Settings struct {
	ServerName      string `json:"server_name"`
	ProcessTyping   bool   `json:"process_typing"`
	ProcessPresence bool   `json:"process_presence"`
	SiteURL         string `json:"site_url"`
}

// With returns a copy of s with one setting changed.
func (s Settings) With(key string, value any) (*Settings, error) {
	switch key {
	case SettingServerName, SettingSiteURL:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("setting %s expects a string, got %T", key, value)
		}
		if key == SettingServerName {
			s.ServerName = str
		} else {
			s.SiteURL = str
		}
	case SettingProcessTyping, SettingProcessPresence:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("setting %s expects a boolean, got %T", key, value)
		}
		if key == SettingProcessTyping {
			s.ProcessTyping = b
		} else {
			s.ProcessPresence = b
		}
	default:
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	return &s, nil
}

type settingsHolder struct {
	ptr atomic.Pointer[Settings]
}

func (h *settingsHolder) load() *Settings {
	if s := h.ptr.Load(); s != nil {
		return s
	}
	return &Settings{}
}

// apply swaps in a snapshot with one setting changed, retrying if another
// writer raced it.
func (h *settingsHolder) apply(key string, value any) (*Settings, error) {
	for {
		old := h.ptr.Load()
		base := Settings{}
		if old != nil {
			base = *old
		}
		next, err := base.With(key, value)
		if err != nil {
			return nil, err
		}
		if h.ptr.CompareAndSwap(old, next) {
			return next, nil
		}
	}
}
