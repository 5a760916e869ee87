package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEscAndTags(t *testing.T) {
	if got := B("a<b>"); got != "<b>a&lt;b&gt;</b>" {
		t.Fatalf("B: %q", got)
	}
	if got := Field("origin", "manual_trigger"); got != "origin: <code>manual_trigger</code>" {
		t.Fatalf("Field: %q", got)
	}
	if got := Field("reason", " "); got != "" {
		t.Fatalf("empty field should render nothing, got %q", got)
	}
}

func TestLinesSkipsEmpty(t *testing.T) {
	got := Lines(B("Job failed"), "", Field("reason", "timeout"))
	want := "<b>Job failed</b>\nreason: <code>timeout</code>"
	if got.String() != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestLinesCapsLength(t *testing.T) {
	got := Lines(B("title"), Esc(strings.Repeat("é", MaxMessageLen)))
	if n := utf8.RuneCountInString(got.String()); n > MaxMessageLen {
		t.Fatalf("len %d exceeds limit", n)
	}
	if strings.Contains(got.String(), "<b>") {
		t.Fatalf("capped output should be plain text")
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, c := range cases {
		if got := TruncRunes(c.in, c.n); got != c.want {
			t.Errorf("TruncRunes(%q,%d)=%q want %q", c.in, c.n, got, c.want)
		}
	}
}
