package telegram

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"flowwatch/internal/notify"
	tgtransport "flowwatch/internal/transport/telegram"
)

func TestFormatMessageFitsOneTelegramMessage(t *testing.T) {
	t.Parallel()
	huge := strings.Repeat("&<é", 3400) // ~10k runes, each escaping to several
	bigPayload, _ := json.Marshal(map[string]string{"log": strings.Repeat("x", 8000)})

	tests := []struct {
		name string
		mod  func(m *notify.Message)
	}{
		{"long description", func(m *notify.Message) { m.Description = huge }},
		{"long tags", func(m *notify.Message) { m.Tags = strings.Split(strings.Repeat("tag ", 2500), " ") }},
		{"long next event", func(m *notify.Message) { m.NextEvent = huge }},
		{"everything long", func(m *notify.Message) {
			m.Description, m.NextEvent, m.EventName, m.WorkflowName = huge, huge, huge, huge
			m.Payload = bigPayload
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := buildFailed()
			tt.mod(&msg)
			out := formatMessage(msg, 3)
			if n := utf8.RuneCountInString(out); n > tgtransport.TextLimit {
				t.Fatalf("rendered %d runes, limit %d", n, tgtransport.TextLimit)
			}
			if !strings.Contains(out, "<b>Occurrences:</b> 3") {
				t.Fatalf("counter missing:\n%s", out)
			}
			if strings.Count(out, "<i>") != strings.Count(out, "</i>") || strings.Count(out, "<pre>") != strings.Count(out, "</pre>") {
				t.Fatalf("unbalanced tags:\n%s", out)
			}
		})
	}
}

func TestFormatMessageKeepsPayloadWhenItFits(t *testing.T) {
	t.Parallel()
	out := formatMessage(buildFailed(), 1)
	if !strings.Contains(out, "<pre><code>{\n  &#34;id&#34;: 1\n}</code></pre>") {
		t.Fatalf("payload block missing:\n%s", out)
	}
}
