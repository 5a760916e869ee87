package tgui

import (
	"html"
	"strings"
)

// MaxMessageLen is Telegram's message text limit in runes.
const MaxMessageLen = 4096

// H is HTML that is safe to pass to Telegram when ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Field renders "label: value" with value in code style. An empty value
// renders nothing.
func Field(label, value string) H {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return Esc(label) + ": " + Code(value)
}

// Lines joins non-empty parts with newlines and caps the result at
// MaxMessageLen runes.
func Lines(parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	out := strings.Join(ss, "\n")
	if len([]rune(out)) > MaxMessageLen {
		// Escaped entities may be cut; fall back to plain text.
		out = html.EscapeString(TruncRunes(html.UnescapeString(stripTags(out)), MaxMessageLen-1))
	}
	return H(out)
}

func stripTags(s string) string {
	var b strings.Builder
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>' && in:
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return b.String()
}
