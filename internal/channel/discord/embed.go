package discord

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"flowwatch/internal/event"
	"flowwatch/internal/notify"
	"flowwatch/pkg/tgui"
)

const (
	maxFieldValue   = 1023
	maxPayloadChars = 3900
)

func severityColor(s event.Severity) int {
	switch s {
	case event.SeverityCritical:
		return 0x8e44ad
	case event.SeverityError:
		return 0xe74c3c
	case event.SeverityWarn:
		return 0xf1c40f
	default:
		return 0x3498db
	}
}

func buildEmbed(msg notify.Message) *discordgo.MessageEmbed {
	sev := msg.Severity
	if sev == "" {
		sev = event.SeverityInfo
	}
	e := &discordgo.MessageEmbed{
		Title: tgui.TruncRunes(msg.WorkflowName+" · "+msg.EventName, 255),
		Color: severityColor(sev),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Event", Value: field(msg.EventName), Inline: true},
			{Name: "Severity", Value: strings.ToUpper(string(sev)), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "project " + msg.ProjectID},
	}
	if msg.NextEvent != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Next event", Value: field(msg.NextEvent), Inline: true})
	}
	if msg.Description != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Description", Value: field(msg.Description)})
	}
	if len(msg.Tags) > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Tags", Value: field(strings.Join(msg.Tags, ", "))})
	}
	if msg.Count > 1 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Occurrences", Value: strconv.Itoa(msg.Count), Inline: true})
	}
	if block := payloadBlock(msg.Payload); block != "" {
		e.Description = block
	}
	if !msg.Timestamp.IsZero() {
		e.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

func payloadBlock(p json.RawMessage) string {
	if len(p) == 0 || string(p) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, p, "", "  "); err != nil {
		buf.Reset()
		buf.Write(p)
	}
	body := strings.ReplaceAll(buf.String(), "```", "`\u200b``")
	return "```json\n" + tgui.TruncRunes(body, maxPayloadChars) + "\n```"
}

func field(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return tgui.TruncRunes(s, maxFieldValue)
}
