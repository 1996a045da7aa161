package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	tgchan "flowwatch/internal/channel/telegram"
	"flowwatch/internal/event"
	"flowwatch/internal/idgen"
	"flowwatch/internal/ingest"
	"flowwatch/internal/notify"
	"flowwatch/internal/queue"
	"flowwatch/internal/storage"
	kit "flowwatch/internal/transport"
	logx "flowwatch/pkg/logx"
)

type chatOp struct {
	kind string // "send" or "edit"
	ref  kit.MessageRef
	text string
}

// chatRecorder is a transport that keeps every outbound call in order.
type chatRecorder struct {
	mu  sync.Mutex
	id  int
	ops []chatOp
}

func (r *chatRecorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *chatRecorder) Stop(context.Context) error                     { return nil }
func (r *chatRecorder) Ping(context.Context, int64) error              { return nil }
func (r *chatRecorder) DeleteMessage(context.Context, kit.MessageRef) error {
	return nil
}

func (r *chatRecorder) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id++
	ref := kit.MessageRef{ChatID: to.ChatID, MessageID: r.id}
	r.ops = append(r.ops, chatOp{kind: "send", ref: ref, text: text})
	return ref, nil
}

func (r *chatRecorder) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, chatOp{kind: "edit", ref: ref, text: text})
	return nil
}

func (r *chatRecorder) snapshot() []chatOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chatOp(nil), r.ops...)
}

func TestRepeatedEventEditsOneTelegramMessage(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	if err := st.UpsertMapping(ctx, event.ChannelMapping{ProjectID: "P", ChatID: 42, APIKey: "k", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	tr := &chatRecorder{}
	tg, err := tgchan.New(tgchan.Options{
		Config:    tgchan.Config{HealthCheck: "off"},
		Transport: tr,
		Store:     st,
		Log:       logx.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tg.Stop(c)
	})

	ids, err := idgen.New(1)
	if err != nil {
		t.Fatal(err)
	}
	q := queue.New(logx.Nop())
	svc, err := ingest.New(ingest.Options{
		Store:    st,
		Queue:    q,
		Notifier: notify.NewDispatcher(notify.NewRegistry(tg), logx.Nop(), nil),
		IDs:      ids,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var last ingest.Result
	for i := 0; i < 3; i++ {
		last, err = svc.Ingest(ctx, ingest.Request{
			ProjectID:  "P",
			WorkflowID: "W",
			EventName:  "build.failed",
			Config:     event.Config{Severity: event.SeverityError},
			Payload:    json.RawMessage(`{"id":1}`),
			Services:   []string{"telegram"},
		})
		if err != nil {
			t.Fatalf("ingest %d: %v", i+1, err)
		}
	}
	if last.Event.Count != 3 || !last.Repeated {
		t.Fatalf("last result = count %d repeated %v, want 3 true", last.Event.Count, last.Repeated)
	}
	stored, err := st.FindLatest(ctx, "W", "build.failed")
	if err != nil || stored == nil || stored.Count != 3 {
		t.Fatalf("stored = %+v, %v; want count 3", stored, err)
	}

	ops := tr.snapshot()
	want := []string{"send", "edit", "edit"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %+v, want %v", ops, want)
	}
	for i, op := range ops {
		if op.kind != want[i] {
			t.Fatalf("op %d = %s, want %s", i, op.kind, want[i])
		}
		if op.ref != ops[0].ref {
			t.Fatalf("op %d targets %+v, want the first message %+v", i, op.ref, ops[0].ref)
		}
		if c := "<b>Occurrences:</b> " + string(rune('1'+i)); !strings.Contains(op.text, c) {
			t.Fatalf("op %d text lacks %q:\n%s", i, c, op.text)
		}
	}
}
