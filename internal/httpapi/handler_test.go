package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"flowwatch/internal/event"
	"flowwatch/internal/ingest"
	"flowwatch/internal/notify"
	logx "flowwatch/pkg/logx"
)

type fakeIngester struct {
	got ingest.Request
	res ingest.Result
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Result, error) {
	f.got = req
	return f.res, f.err
}

func init() { gin.SetMode(gin.TestMode) }

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const eventsPath = "/v1/projects/p1/workflows/wf1/events"

func TestIngestMapsRequest(t *testing.T) {
	t.Parallel()
	svc := &fakeIngester{res: ingest.Result{Event: &event.Event{ID: 7, Count: 1}}}
	r := NewRouter(svc, logx.Nop())

	w := post(t, r, eventsPath, `{"workflow_name":"Checkout","event_name":"failed","config":{"severity":"error","tags":["a"]},"payload":{"x":1},"services":["telegram"],"next_event":"retry"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	got := svc.got
	if got.ProjectID != "p1" || got.WorkflowID != "wf1" || got.EventName != "failed" || got.WorkflowName != "Checkout" {
		t.Fatalf("request not mapped: %+v", got)
	}
	if got.Config.Severity != event.SeverityError || got.NextEvent != "retry" || len(got.Services) != 1 {
		t.Fatalf("request fields not mapped: %+v", got)
	}
	if string(got.Payload) != `{"x":1}` {
		t.Fatalf("payload=%s", got.Payload)
	}

	var resp IngestEventResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.EventID != 7 || resp.Count != 1 || resp.Repeated {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestIngestStatusCodes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		res  ingest.Result
		err  error
		want int
	}{
		{name: "repeated", body: `{"event_name":"e"}`, res: ingest.Result{Event: &event.Event{ID: 1, Count: 2}, Repeated: true}, want: http.StatusOK},
		{name: "malformed body", body: `{`, want: http.StatusBadRequest},
		{name: "missing event name", body: `{}`, want: http.StatusBadRequest},
		{name: "validation", body: `{"event_name":"e"}`, err: &ingest.ValidationError{Field: "payload", Reason: "not valid JSON"}, want: http.StatusBadRequest},
		{
			name: "notify failed",
			body: `{"event_name":"e"}`,
			res:  ingest.Result{Event: &event.Event{ID: 3, Count: 1}, Report: notify.Report{Failed: []string{"discord"}}},
			err:  &ingest.NotifyError{EventID: 3, Failed: []string{"discord"}, Err: errors.New("boom")},
			want: http.StatusBadGateway,
		},
		{name: "store failure", body: `{"event_name":"e"}`, err: errors.New("disk full"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewRouter(&fakeIngester{res: tc.res, err: tc.err}, logx.Nop())
			w := post(t, r, eventsPath, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestNotifyFailureReportsStoredEvent(t *testing.T) {
	t.Parallel()
	svc := &fakeIngester{
		res: ingest.Result{Event: &event.Event{ID: 42, Count: 1}},
		err: &ingest.NotifyError{EventID: 42, Failed: []string{"telegram"}, Err: errors.New("chat not found")},
	}
	w := post(t, NewRouter(svc, logx.Nop()), eventsPath, `{"event_name":"e"}`)

	var resp NotifyFailedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.EventID != 42 || len(resp.Failed) != 1 || resp.Failed[0] != "telegram" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	r := NewRouter(&fakeIngester{}, logx.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}
