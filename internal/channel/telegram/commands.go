package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flowwatch/internal/event"
	"flowwatch/internal/eventbus"
	kit "flowwatch/internal/transport"
	logx "flowwatch/pkg/logx"
	"flowwatch/pkg/tgui"
)

const (
	minPauseMinutes = 1
	maxPauseMinutes = 60
)

type command struct {
	name string
	args []string
}

type commandSpec struct {
	name  string
	usage string
	desc  string
	run   func(a *Adapter, ctx context.Context, m *kit.Message, args []string) error
}

// usageError is shown to the user as a short-lived reply.
type usageError struct{ text string }

func (e *usageError) Error() string { return e.text }

func usagef(format string, args ...any) error { return &usageError{text: fmt.Sprintf(format, args...)} }

var commands []commandSpec

// Populated in init: cmdHelp reads the table.
func init() {
	commands = []commandSpec{
		{name: "start", desc: "Introduce the bot", run: (*Adapter).cmdHelp},
		{name: "help", desc: "List commands", run: (*Adapter).cmdHelp},
		{name: "status", desc: "Show projects connected to this chat", run: (*Adapter).cmdStatus},
		{name: "connect", usage: "<projectId> <apiKey>", desc: "Send a project's notifications here", run: (*Adapter).cmdConnect},
		{name: "refresh", desc: "Reload mappings and forget tracked messages", run: (*Adapter).cmdRefresh},
		{name: "pause", usage: "<minutes 1-60>", desc: "Mute notifications for a while", run: (*Adapter).cmdPause},
		{name: "resume", desc: "Unmute notifications", run: (*Adapter).cmdResume},
		{name: "privacy", desc: "Privacy policy", run: (*Adapter).cmdPrivacy},
	}
}

func lookupCommand(name string) (commandSpec, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return commandSpec{}, false
}

func menuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(commands))
	for _, c := range commands {
		out = append(out, kit.BotCommand{Command: c.name, Description: c.desc})
	}
	return out
}

// parseCommand extracts "/name args..." from text. A "@bot" suffix is
// stripped; when botUsername is set, commands addressed to another bot are
// rejected.
func parseCommand(text, botUsername string) (command, bool) {
	toks := tokenizeCommandLine(text)
	if len(toks) == 0 || !strings.HasPrefix(toks[0], "/") {
		return command{}, false
	}
	name := strings.TrimPrefix(toks[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return command{}, false
		}
	}
	name = strings.ToLower(name)
	if name == "" {
		return command{}, false
	}
	return command{name: name, args: toks[1:]}, true
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	/connect "my project" key
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

func (a *Adapter) handleMessage(ctx context.Context, m *kit.Message) {
	cmd, ok := parseCommand(m.Text, a.cfg.BotUsername)
	if !ok {
		return
	}
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	log := a.log.With(logx.Int64("chat_id", m.ChatID), logx.String("cmd", cmd.name))

	spec, ok := lookupCommand(cmd.name)
	if !ok {
		a.replyEphemeral(ctx, to, tgui.Esc("Unknown command /"+cmd.name+". Send /help for the list.").String())
		return
	}
	a.recordCommand(ctx, m.ChatID, cmd.name)

	if err := spec.run(a, ctx, m, cmd.args); err != nil {
		if ue, ok := err.(*usageError); ok {
			a.replyEphemeral(ctx, to, tgui.Esc(ue.text).String())
			return
		}
		log.Warn("command failed", logx.Err(err))
		a.replyEphemeral(ctx, to, tgui.Esc("Something went wrong, try again later.").String())
		return
	}
	log.Debug("command handled")
}

func (a *Adapter) reply(ctx context.Context, m *kit.Message, html tgui.H) error {
	_, err := a.tr.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, html.String(), htmlOpts)
	return err
}

func (a *Adapter) cmdHelp(ctx context.Context, m *kit.Message, _ []string) error {
	lines := []tgui.H{tgui.B("flowwatch"), tgui.Esc("Workflow event notifications for your projects."), ""}
	for _, c := range commands {
		line := "/" + c.name
		if c.usage != "" {
			line += " " + c.usage
		}
		lines = append(lines, tgui.H(tgui.Code(line).String()+" "+tgui.Esc(c.desc).String()))
	}
	return a.reply(ctx, m, tgui.JoinH("\n", lines...))
}

func (a *Adapter) cmdStatus(ctx context.Context, m *kit.Message, _ []string) error {
	projects := a.maps.projectsFor(m.ChatID)
	if len(projects) == 0 {
		return a.reply(ctx, m, tgui.Esc("No projects are connected to this chat. Use /connect <projectId> <apiKey>."))
	}
	lines := []tgui.H{tgui.B("Connected projects")}
	for _, p := range projects {
		st := "active"
		if until, ok, err := a.pauses.GetPause(ctx, p); err == nil && ok && a.now().Before(until) {
			st = "paused until " + until.UTC().Format("15:04 UTC")
		}
		lines = append(lines, tgui.H("• "+tgui.Code(p).String()+" "+tgui.Esc(st).String()))
	}
	return a.reply(ctx, m, tgui.JoinH("\n", lines...))
}

func (a *Adapter) cmdConnect(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) != 2 || strings.TrimSpace(args[0]) == "" || strings.TrimSpace(args[1]) == "" {
		return usagef("Usage: /connect <projectId> <apiKey>")
	}
	mp := event.ChannelMapping{
		ProjectID: strings.TrimSpace(args[0]),
		ChatID:    m.ChatID,
		APIKey:    strings.TrimSpace(args[1]),
		CreatedAt: a.now(),
	}
	if err := a.store.UpsertMapping(ctx, mp); err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	a.maps.put(mp)
	a.tracker.clearProject(mp.ProjectID)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeMappingUpserted, Data: mp})
	a.log.Info("project connected", logx.String("project_id", mp.ProjectID), logx.Int64("chat_id", mp.ChatID))
	return a.reply(ctx, m, tgui.H("Connected "+tgui.Code(mp.ProjectID).String()+". Notifications will arrive in this chat."))
}

func (a *Adapter) cmdRefresh(ctx context.Context, m *kit.Message, _ []string) error {
	if err := a.reloadMappings(ctx); err != nil {
		return fmt.Errorf("reload mappings: %w", err)
	}
	a.tracker.clear()
	return a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Reloaded %d mappings.", a.maps.len())))
}

func (a *Adapter) cmdPause(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) != 1 {
		return usagef("Usage: /pause <minutes %d-%d>", minPauseMinutes, maxPauseMinutes)
	}
	mins, err := strconv.Atoi(args[0])
	if err != nil || mins < minPauseMinutes || mins > maxPauseMinutes {
		return usagef("Pause must be a whole number of minutes between %d and %d.", minPauseMinutes, maxPauseMinutes)
	}
	projects := a.maps.projectsFor(m.ChatID)
	if len(projects) == 0 {
		return usagef("No projects are connected to this chat.")
	}
	until := a.now().Add(time.Duration(mins) * time.Minute)
	for _, p := range projects {
		if err := a.pauses.SetPause(ctx, p, until); err != nil {
			return fmt.Errorf("pause %s: %w", p, err)
		}
	}
	return a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Paused %d project(s) for %d minute(s).", len(projects), mins)))
}

func (a *Adapter) cmdResume(ctx context.Context, m *kit.Message, _ []string) error {
	projects := a.maps.projectsFor(m.ChatID)
	if len(projects) == 0 {
		return usagef("No projects are connected to this chat.")
	}
	for _, p := range projects {
		if err := a.pauses.DeletePause(ctx, p); err != nil {
			return fmt.Errorf("resume %s: %w", p, err)
		}
	}
	return a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Resumed %d project(s).", len(projects))))
}

func (a *Adapter) cmdPrivacy(ctx context.Context, m *kit.Message, _ []string) error {
	return a.reply(ctx, m, tgui.H("Privacy policy: "+tgui.Link(a.cfg.PrivacyURL, a.cfg.PrivacyURL).String()))
}
