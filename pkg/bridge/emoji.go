// Copyright 2024-2026 Aiku AI

package bridge

import "strings"

var shortcodes = map[string]string{
	"+1":               "\U0001f44d",
	"-1":               "\U0001f44e",
	"thumbsup":         "\U0001f44d",
	"thumbsdown":       "\U0001f44e",
	"heart":            "❤️",
	"smile":            "\U0001f604",
	"smiley":           "\U0001f603",
	"grinning":         "\U0001f600",
	"joy":              "\U0001f602",
	"laughing":         "\U0001f606",
	"slight_smile":     "\U0001f642",
	"wink":             "\U0001f609",
	"cry":              "\U0001f622",
	"open_mouth":       "\U0001f62e",
	"wave":             "\U0001f44b",
	"clap":             "\U0001f44f",
	"ok_hand":          "\U0001f44c",
	"muscle":           "\U0001f4aa",
	"fire":             "\U0001f525",
	"100":              "\U0001f4af",
	"tada":             "\U0001f389",
	"eyes":             "\U0001f440",
	"thinking":         "\U0001f914",
	"white_check_mark": "✅",
	"heavy_check_mark": "✔️",
	"x":                "❌",
	"warning":          "⚠️",
	"rocket":           "\U0001f680",
	"star":             "⭐",
	"pray":             "\U0001f64f",
}

// ShortcodeToEmoji converts a local reaction shortcode such as ":tada:" to
// its Unicode emoji. Unknown shortcodes are returned unchanged so custom
// emoji still reach the other side as text.
func ShortcodeToEmoji(reaction string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(reaction, ":"), ":")
	if emoji, ok := shortcodes[name]; ok {
		return emoji
	}
	return reaction
}
