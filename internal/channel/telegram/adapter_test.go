package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"flowwatch/internal/event"
	"flowwatch/internal/notify"
	"flowwatch/internal/storage"
	kit "flowwatch/internal/transport"
	logx "flowwatch/pkg/logx"
)

type sentMsg struct {
	ref  kit.MessageRef
	text string
}

type fakeTransport struct {
	mu     sync.Mutex
	nextID int
	sends  []sentMsg
	edits  []sentMsg
	// outbox holds sends and edits in call order.
	outbox  []sentMsg
	deletes []kit.MessageRef
	pings   []int64

	sendErr error
	editErr error
	pingErr map[int64]error
	started bool
	stopped bool
}

func (f *fakeTransport) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	f.sends = append(f.sends, sentMsg{ref: ref, text: text})
	f.outbox = append(f.outbox, sentMsg{ref: ref, text: text})
	return ref, nil
}

func (f *fakeTransport) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, sentMsg{ref: ref, text: text})
	f.outbox = append(f.outbox, sentMsg{ref: ref, text: text})
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, ref)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Ping(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings = append(f.pings, chatID)
	return f.pingErr[chatID]
}

func (f *fakeTransport) calls() (sends, edits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends), len(f.edits)
}

func (f *fakeTransport) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.outbox); n > 0 {
		return f.outbox[n-1].text
	}
	return ""
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const chatID = int64(-1001)

func newTestAdapter(t *testing.T) (*Adapter, *fakeTransport, storage.Store, *clock) {
	t.Helper()
	tr := &fakeTransport{}
	st := storage.NewMemory()
	a, err := New(Options{
		Config:    Config{EphemeralTTL: 20 * time.Millisecond, HealthCheck: "off"},
		Transport: tr,
		Store:     st,
		Log:       logx.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	clk := &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	a.now = clk.now
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a, tr, st, clk
}

func runCommand(a *Adapter, text string) {
	a.handleMessage(context.Background(), &kit.Message{ID: 1, ChatID: chatID, Text: text})
}

func buildFailed() notify.Message {
	return notify.Message{
		ProjectID:    "P",
		WorkflowName: "W",
		EventName:    "build.failed",
		Severity:     event.SeverityError,
		Payload:      []byte(`{"id":1}`),
	}
}

func TestRepeatedEventEditsInPlace(t *testing.T) {
	a, tr, _, _ := newTestAdapter(t)
	runCommand(a, "/connect P key-1")
	base, _ := tr.calls()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := a.Send(ctx, buildFailed()); err != nil {
			t.Fatal(err)
		}
	}
	sends, edits := tr.calls()
	if sends-base != 1 || edits != 2 {
		t.Fatalf("sends=%d edits=%d, want 1 and 2", sends-base, edits)
	}
	tr.mu.Lock()
	first, second, third := tr.sends[base].text, tr.edits[0].text, tr.edits[1].text
	editRef := tr.edits[1].ref
	sentRef := tr.sends[base].ref
	tr.mu.Unlock()
	for i, txt := range []string{first, second, third} {
		want := fmt.Sprintf("<b>Occurrences:</b> %d", i+1)
		if !strings.Contains(txt, want) {
			t.Fatalf("message %d missing %q:\n%s", i+1, want, txt)
		}
	}
	if editRef != sentRef {
		t.Fatalf("edited %+v, want the original %+v", editRef, sentRef)
	}
}

func TestNotModifiedCountsAsSuccess(t *testing.T) {
	a, tr, _, _ := newTestAdapter(t)
	runCommand(a, "/connect P k")
	ctx := context.Background()
	if err := a.Send(ctx, buildFailed()); err != nil {
		t.Fatal(err)
	}
	tr.mu.Lock()
	tr.editErr = fmt.Errorf("wrapped: %w", kit.ErrMessageNotModified)
	tr.mu.Unlock()
	if err := a.Send(ctx, buildFailed()); err != nil {
		t.Fatalf("not modified should be success, got %v", err)
	}
}

func TestGoneMessageStartsNewEntry(t *testing.T) {
	a, tr, _, _ := newTestAdapter(t)
	runCommand(a, "/connect P k")
	base, _ := tr.calls()
	ctx := context.Background()
	_ = a.Send(ctx, buildFailed())
	_ = a.Send(ctx, buildFailed())

	tr.mu.Lock()
	tr.editErr = kit.ErrMessageGone
	tr.mu.Unlock()
	if err := a.Send(ctx, buildFailed()); err != nil {
		t.Fatal(err)
	}
	sends, _ := tr.calls()
	if sends-base != 2 {
		t.Fatalf("sends = %d, want a fresh message after the old one vanished", sends-base)
	}
	if !strings.Contains(tr.lastText(), "<b>Occurrences:</b> 1") {
		t.Fatalf("fresh message should restart the counter:\n%s", tr.lastText())
	}
}

func TestPauseSuppressesUntilWindowElapses(t *testing.T) {
	a, tr, _, clk := newTestAdapter(t)
	runCommand(a, "/connect P k")
	runCommand(a, "/pause 1")
	if !a.IsPaused("P") {
		t.Fatal("project should be paused")
	}
	before, edits := tr.calls()

	ctx := context.Background()
	d := notify.NewDispatcher(notify.NewRegistry(a), logx.Nop(), nil)
	if _, err := d.Notify(ctx, []string{"telegram"}, buildFailed()); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(ctx, buildFailed()); err != nil {
		t.Fatal(err)
	}
	if s, e := tr.calls(); s != before || e != edits {
		t.Fatal("paused project must not reach the transport")
	}

	clk.advance(61 * time.Second)
	if _, err := d.Notify(ctx, []string{"telegram"}, buildFailed()); err != nil {
		t.Fatal(err)
	}
	if s, _ := tr.calls(); s != before+1 {
		t.Fatalf("sends = %d, want delivery after the window", s-before)
	}
	if _, ok, _ := a.pauses.GetPause(ctx, "P"); ok {
		t.Fatal("expired pause should have been deleted")
	}
}

func TestResumeClearsPause(t *testing.T) {
	a, _, _, _ := newTestAdapter(t)
	runCommand(a, "/connect P k")
	runCommand(a, "/pause 30")
	runCommand(a, "/resume")
	if a.IsPaused("P") {
		t.Fatal("resume should clear the pause")
	}
}

func TestChatNotFoundDropsMapping(t *testing.T) {
	a, tr, st, _ := newTestAdapter(t)
	runCommand(a, "/connect P k")
	tr.mu.Lock()
	tr.sendErr = fmt.Errorf("%w: chat not found", kit.ErrUnreachable)
	tr.mu.Unlock()

	ctx := context.Background()
	if err := a.Send(ctx, buildFailed()); !errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if ms, _ := st.ListMappings(ctx); len(ms) != 0 {
		t.Fatalf("store still has %+v", ms)
	}

	tr.mu.Lock()
	tr.sendErr = nil
	tr.mu.Unlock()
	before, _ := tr.calls()
	if err := a.Send(ctx, buildFailed()); err != nil {
		t.Fatal(err)
	}
	if s, _ := tr.calls(); s != before {
		t.Fatal("unmapped project must not make a network call")
	}

	runCommand(a, "/connect P k")
	before, _ = tr.calls()
	if err := a.Send(ctx, buildFailed()); err != nil {
		t.Fatal(err)
	}
	if s, _ := tr.calls(); s != before+1 {
		t.Fatal("reconnected project should receive notifications again")
	}
}

func TestHealthSweepDropsUnreachableChats(t *testing.T) {
	a, tr, st, _ := newTestAdapter(t)
	ctx := context.Background()
	runCommand(a, "/connect P k")
	a.handleMessage(ctx, &kit.Message{ChatID: 42, Text: "/connect Q k"})
	tr.mu.Lock()
	tr.pingErr = map[int64]error{chatID: kit.ErrUnreachable}
	tr.mu.Unlock()

	a.HealthSweep(ctx)

	if _, ok := a.maps.get("P"); ok {
		t.Fatal("P should be dropped")
	}
	if _, ok := a.maps.get("Q"); !ok {
		t.Fatal("Q is reachable and should stay")
	}
	ms, _ := st.ListMappings(ctx)
	if len(ms) != 1 || ms[0].ProjectID != "Q" {
		t.Fatalf("stored mappings = %+v", ms)
	}
}

func TestMalformedCommandGetsEphemeralReply(t *testing.T) {
	a, tr, st, _ := newTestAdapter(t)
	runCommand(a, "/pause 90")

	tr.mu.Lock()
	if len(tr.sends) != 1 || !strings.Contains(tr.sends[0].text, "between 1 and 60") {
		tr.mu.Unlock()
		t.Fatalf("sends = %+v", tr.sends)
	}
	ref := tr.sends[0].ref
	tr.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		deleted := append([]kit.MessageRef(nil), tr.deletes...)
		tr.mu.Unlock()
		sess, _, _ := st.GetSession(context.Background(), chatID)
		if len(deleted) == 1 && sess.EphemeralReplyID == 0 {
			if deleted[0] != ref {
				t.Fatalf("deleted %+v, want %+v", deleted[0], ref)
			}
			if sess.LastCommand != "pause" {
				t.Fatalf("session = %+v", sess)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("ephemeral reply not cleaned up: deletes=%v session=%+v", deleted, sess)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatusAndRefresh(t *testing.T) {
	a, tr, st, _ := newTestAdapter(t)
	ctx := context.Background()
	runCommand(a, "/status")
	if !strings.Contains(tr.lastText(), "No projects") {
		t.Fatalf("status = %q", tr.lastText())
	}
	runCommand(a, "/connect P k")
	if err := a.Send(ctx, buildFailed()); err != nil {
		t.Fatal(err)
	}
	if a.tracker.len() != 1 {
		t.Fatalf("tracker len = %d, want 1", a.tracker.len())
	}
	runCommand(a, "/pause 5")
	runCommand(a, "/status")
	if txt := tr.lastText(); !strings.Contains(txt, "<code>P</code>") || !strings.Contains(txt, "paused until") {
		t.Fatalf("status = %q", txt)
	}

	if err := st.UpsertMapping(ctx, event.ChannelMapping{ProjectID: "Z", ChatID: 9}); err != nil {
		t.Fatal(err)
	}
	runCommand(a, "/refresh")
	if _, ok := a.maps.get("Z"); !ok {
		t.Fatal("refresh should load mappings written to the store")
	}
	if a.tracker.len() != 0 {
		t.Fatal("refresh should clear the tracker")
	}
}

func TestLifecycle(t *testing.T) {
	tr := &fakeTransport{}
	a, err := New(Options{Transport: tr, Store: storage.NewMemory(), Config: Config{HealthCheck: "off"}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if a.State() != "idle" {
		t.Fatalf("state = %s", a.State())
	}
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop = %v, want ErrStopped", err)
	}
	if err := a.Send(ctx, buildFailed()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Send after Stop = %v, want ErrStopped", err)
	}
	if !tr.stopped {
		t.Fatal("transport was not stopped")
	}
}

func TestFailedSetupLeavesAdapterStopped(t *testing.T) {
	a, err := New(Options{Transport: &fakeTransport{}, Store: storage.NewMemory(), Config: Config{HealthCheck: "every now and then"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("invalid health check schedule should fail Start")
	}
	if a.State() != "stopped" {
		t.Fatalf("state = %s, want stopped", a.State())
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		bot  string
		name string
		args []string
		ok   bool
	}{
		{"/connect P key", "", "connect", []string{"P", "key"}, true},
		{"/Pause@FlowBot 5", "flowbot", "pause", []string{"5"}, true},
		{"/pause@other_bot 5", "flowbot", "", nil, false},
		{`/connect "my project" k`, "", "connect", []string{"my project", "k"}, true},
		{"hello", "", "", nil, false},
		{"/", "", "", nil, false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.in, tt.bot)
		if ok != tt.ok || got.name != tt.name || strings.Join(got.args, "|") != strings.Join(tt.args, "|") {
			t.Errorf("parseCommand(%q) = %+v, %v", tt.in, got, ok)
		}
	}
}
