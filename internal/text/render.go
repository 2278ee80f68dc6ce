// Package text turns legacy color-code markup ("&aWelcome &lhome",
// "&#ff8800warm") into the three forms the ping eras display: plain text,
// section-sign codes, and JSON text components.
package text

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NewlinePlaceholder is replaced with a line break in every form.
const NewlinePlaceholder = "{NL}"

const sectionSign = '§'

// Serializer names accepted in configuration.
const (
	SerializerAmpersand = "legacy_ampersand"
	SerializerSection   = "legacy_section"
)

// LegacyRenderer parses markup that uses a single code character, either
// '&' or '§', followed by a color or format code.
type LegacyRenderer struct {
	code rune
}

// NewLegacyRenderer creates a renderer for the given code character.
// Section signs are always accepted in addition to it.
func NewLegacyRenderer(code rune) *LegacyRenderer {
	return &LegacyRenderer{code: code}
}

// ByName returns the renderer registered under a serializer name.
func ByName(name string) (*LegacyRenderer, error) {
	switch name {
	case SerializerAmpersand, "":
		return NewLegacyRenderer('&'), nil
	case SerializerSection:
		return NewLegacyRenderer(sectionSign), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

// Plain strips all codes.
func (r *LegacyRenderer) Plain(markup string) string {
	var sb strings.Builder
	for _, s := range r.parse(markup) {
		sb.WriteString(s.text)
	}
	return sb.String()
}

// Legacy re-emits the markup with section-sign codes. Hex colors are
// reduced to the nearest named color since no legacy surface shows them.
func (r *LegacyRenderer) Legacy(markup string) string {
	var sb strings.Builder
	for _, s := range r.parse(markup) {
		if s.color != nil {
			sb.WriteRune(sectionSign)
			sb.WriteByte(s.color.nearest().code)
		}
		for _, f := range formats {
			if s.style&f.flag != 0 {
				sb.WriteRune(sectionSign)
				sb.WriteByte(f.code)
			}
		}
		sb.WriteString(s.text)
	}
	return sb.String()
}

// component is the JSON text component shape shared by all binary eras.
type component struct {
	Text          string      `json:"text"`
	Color         string      `json:"color,omitempty"`
	Bold          bool        `json:"bold,omitempty"`
	Italic        bool        `json:"italic,omitempty"`
	Underlined    bool        `json:"underlined,omitempty"`
	Strikethrough bool        `json:"strikethrough,omitempty"`
	Obfuscated    bool        `json:"obfuscated,omitempty"`
	Extra         []component `json:"extra,omitempty"`
}

// JSON renders the markup as a text component. modern selects the 1.16+
// encoding that keeps hex colors; older clients get the nearest named
// color instead.
func (r *LegacyRenderer) JSON(markup string, modern bool) (string, error) {
	spans := r.parse(markup)

	root := component{}
	switch len(spans) {
	case 0:
	case 1:
		root = spans[0].component(modern)
	default:
		root.Extra = make([]component, 0, len(spans))
		for _, s := range spans {
			root.Extra = append(root.Extra, s.component(modern))
		}
	}

	out, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("failed to encode text component: %w", err)
	}
	return string(out), nil
}

type style uint8

const (
	styleBold style = 1 << iota
	styleItalic
	styleUnderlined
	styleStrikethrough
	styleObfuscated
)

var formats = []struct {
	code byte
	flag style
}{
	{'k', styleObfuscated},
	{'l', styleBold},
	{'m', styleStrikethrough},
	{'n', styleUnderlined},
	{'o', styleItalic},
}

type span struct {
	text  string
	color *color
	style style
}

func (s span) component(modern bool) component {
	c := component{
		Text:          s.text,
		Bold:          s.style&styleBold != 0,
		Italic:        s.style&styleItalic != 0,
		Underlined:    s.style&styleUnderlined != 0,
		Strikethrough: s.style&styleStrikethrough != 0,
		Obfuscated:    s.style&styleObfuscated != 0,
	}
	if s.color != nil {
		c.Color = s.color.serialize(modern)
	}
	return c
}

// parse splits markup into styled spans. A color code resets the active
// formats, as legacy clients do.
func (r *LegacyRenderer) parse(markup string) []span {
	markup = strings.ReplaceAll(markup, NewlinePlaceholder, "\n")
	runes := []rune(markup)

	var (
		spans []span
		cur   span
		sb    strings.Builder
	)
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		cur.text = sb.String()
		spans = append(spans, cur)
		sb.Reset()
	}

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if (ch != r.code && ch != sectionSign) || i+1 >= len(runes) {
			sb.WriteRune(ch)
			continue
		}

		if c, n := r.parseHex(runes, i+1); n > 0 {
			flush()
			cur = span{color: c}
			i += n
			continue
		}

		next := toLower(runes[i+1])
		if c, ok := namedByCode(byte(next)); ok && next < 0x80 {
			flush()
			cur = span{color: c}
			i++
			continue
		}
		if next == 'r' {
			flush()
			cur = span{}
			i++
			continue
		}
		if f, ok := formatFlag(next); ok {
			flush()
			cur.style |= f
			i++
			continue
		}
		sb.WriteRune(ch)
	}
	flush()
	return spans
}

// parseHex recognizes "#rrggbb" and the "x&r&r&g&g&b&b" form after a code
// character at runes[start]. It returns the color and the runes consumed.
func (r *LegacyRenderer) parseHex(runes []rune, start int) (*color, int) {
	if runes[start] == '#' && start+7 <= len(runes) {
		if c, ok := parseHexColor(string(runes[start+1 : start+7])); ok {
			return c, 7
		}
		return nil, 0
	}
	if toLower(runes[start]) == 'x' && start+13 <= len(runes) {
		var digits []rune
		for j := start + 1; j < start+13; j += 2 {
			if runes[j] != r.code && runes[j] != sectionSign {
				return nil, 0
			}
			digits = append(digits, runes[j+1])
		}
		if c, ok := parseHexColor(string(digits)); ok {
			return c, 13
		}
	}
	return nil, 0
}

func formatFlag(code rune) (style, bool) {
	for _, f := range formats {
		if rune(f.code) == code {
			return f.flag, true
		}
	}
	return 0, false
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
