package telegram

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"flowwatch/internal/event"
	"flowwatch/internal/notify"
	tgtransport "flowwatch/internal/transport/telegram"
	"flowwatch/pkg/tgui"
)

// fieldLimits caps each free-text field, in runes, before escaping.
type fieldLimits struct {
	name    int // event, project, workflow and next event
	desc    int
	tags    int
	payload int
}

var defaultLimits = fieldLimits{name: 128, desc: 1000, tags: 300, payload: 2500}

func (l fieldLimits) halve() fieldLimits {
	return fieldLimits{name: max(l.name/2, 16), desc: max(l.desc/2, 16), tags: max(l.tags/2, 16), payload: l.payload / 2}
}

func severityMark(s event.Severity) string {
	switch s {
	case event.SeverityCritical:
		return "🚨"
	case event.SeverityError:
		return "❌"
	case event.SeverityWarn:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// formatMessage renders msg with the tracker counter as Telegram HTML that
// fits a single message. Fields shrink until it does, payload first.
func formatMessage(msg notify.Message, counter int) string {
	l := defaultLimits
	for {
		out := renderMessage(msg, counter, l)
		if utf8.RuneCountInString(out) <= tgtransport.TextLimit || (l.payload == 0 && l.name == 16 && l.desc == 16 && l.tags == 16) {
			return out
		}
		if l.payload > 0 {
			l.payload /= 2
			if l.payload < 64 {
				l.payload = 0
			}
			continue
		}
		l = l.halve()
	}
}

func renderMessage(msg notify.Message, counter int, l fieldLimits) string {
	name := func(s string) string { return tgui.TruncRunes(s, l.name) }

	head := tgui.H(severityMark(msg.Severity) + " " + tgui.B(name(msg.EventName)).String())
	if counter > 1 {
		head += tgui.H(" ×" + strconv.Itoa(counter))
	}

	var tags tgui.H
	if len(msg.Tags) > 0 {
		parts := make([]string, 0, len(msg.Tags))
		for _, t := range msg.Tags {
			parts = append(parts, "#"+strings.ReplaceAll(strings.TrimSpace(t), " ", "_"))
		}
		tags = tgui.Label("Tags", tgui.TruncRunes(strings.Join(parts, " "), l.tags))
	}
	var desc, next tgui.H
	if msg.Description != "" {
		desc = tgui.I(tgui.TruncRunes(msg.Description, l.desc))
	}
	if msg.NextEvent != "" {
		next = tgui.Label("Next", name(msg.NextEvent))
	}

	lines := []tgui.H{
		head,
		tgui.Label("Project", name(msg.ProjectID)),
		tgui.Label("Workflow", name(msg.WorkflowName)),
		tgui.Label("Severity", strings.ToUpper(string(msg.Severity))),
		desc,
		tags,
		next,
		payloadBlock(msg.Payload, l.payload),
		tgui.Label("Occurrences", strconv.Itoa(counter)),
	}
	if !msg.Timestamp.IsZero() {
		lines = append(lines, tgui.I("updated "+msg.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")))
	}
	return tgui.JoinH("\n", lines...).String()
}

func payloadBlock(p json.RawMessage, limit int) tgui.H {
	if limit <= 0 || len(p) == 0 || string(p) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, p, "", "  "); err != nil {
		buf.Reset()
		buf.Write(p)
	}
	return tgui.Pre(tgui.TruncRunes(buf.String(), limit))
}
