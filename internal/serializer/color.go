package serializer

import (
	"fmt"

	"github.com/slimeforge/slimekeep/internal/liveworld"
)

// encodeColor renders a runtime color as a 6-hex uppercase string (§4.C
// "Color encoding").
func encodeColor(c liveworld.Color) string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

// decodeColor accepts either a hex string or a structured color value
// (map with r/g/b keys, as a JSON round-trip of liveworld.Color would
// produce) and falls back to black plus ok=false if neither shape
// matches.
func decodeColor(v any) (liveworld.Color, bool) {
	switch val := v.(type) {
	case string:
		return decodeColorHex(val)
	case map[string]any:
		r := colorComponent(val, "r", "R")
		g := colorComponent(val, "g", "G")
		b := colorComponent(val, "b", "B")
		return liveworld.Color{R: r, G: g, B: b}, true
	default:
		return liveworld.Color{}, false
	}
}

func decodeColorHex(hex string) (liveworld.Color, bool) {
	if len(hex) != 6 {
		return liveworld.Color{}, false
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02X%02X%02X", &r, &g, &b); err != nil {
		return liveworld.Color{}, false
	}
	return liveworld.Color{R: r, G: g, B: b}, true
}

func colorComponent(m map[string]any, keys ...string) uint8 {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch n := v.(type) {
			case float64:
				return uint8(n)
			case int:
				return uint8(n)
			}
		}
	}
	return 0
}
