package helpers

import "testing"

func TestPlainText_RemovesTagsAndScripts(t *testing.T) {
	input := `<p>Hello <strong>world</strong><script>alert('x')</script></p>`
	got := PlainText(input)
	want := "Hello world"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPlainText_KeepsEntitiesWithoutMarkup(t *testing.T) {
	input := `  Q&A: "pricing" in 2025 `
	got := PlainText(input)
	want := `Q&A: "pricing" in 2025`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPlainText_UnescapesAfterStripping(t *testing.T) {
	got := PlainText(`<b>R&D</b> report`)
	if got != "R&D report" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"", 5, ""},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
