package tgui

import "testing"

func TestEscapingHelpers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got  H
		want string
	}{
		{Esc("a<b>&c"), "a&lt;b&gt;&amp;c"},
		{B("x<y"), "<b>x&lt;y</b>"},
		{Label("Event", "<deploy>"), "<b>Event:</b> &lt;deploy&gt;"},
		{Pre(`{"a":1}`), "<pre><code>{&#34;a&#34;:1}</code></pre>"},
		{Link("p", `https://x.test/?a="1"`), `<a href="https://x.test/?a=&#34;1&#34;">p</a>`},
		{JoinH("\n", B("a"), "", "  ", I("b")), "<b>a</b>\n<i>b</i>"},
	}
	for _, tt := range tests {
		if tt.got.String() != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo", 10); got != "héllo" {
		t.Fatalf("untruncated = %q", got)
	}
	if got := TruncRunes("héllo", 2); got != "hé…" {
		t.Fatalf("truncated = %q", got)
	}
	if got := TruncRunes("abc", 0); got != "" {
		t.Fatalf("zero = %q", got)
	}
}
