package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"flowwatch/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowwatch.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppIngestsOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	path := writeConfig(t, `{
		"http": {"addr": "127.0.0.1:0"},
		"logging": {"level": "error"},
		"storage": {"driver": "file", "path": "`+filepath.ToSlash(filepath.Join(dir, "store"))+`"},
		"ingest": {"node_id": 1}
	}`)

	ctx := context.Background()
	a, err := New(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	url := "http://" + a.Addr() + "/v1/projects/p1/workflows/wf/events"
	body := []byte(`{"event_name":"deploy_failed","config":{"severity":"error"},"payload":{"step":3}}`)

	want := []int{http.StatusCreated, http.StatusOK}
	var id int64
	for i, code := range want {
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		var out struct {
			EventID int64 `json:"event_id"`
			Count   int   `json:"count"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != code {
			t.Fatalf("request %d: status=%d want %d", i, resp.StatusCode, code)
		}
		if out.Count != i+1 {
			t.Fatalf("request %d: count=%d", i, out.Count)
		}
		if i == 0 {
			id = out.EventID
		} else if out.EventID != id {
			t.Fatalf("repeat produced a new id: %d != %d", out.EventID, id)
		}
	}

	resp, err := http.Get("http://" + a.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz=%d", resp.StatusCode)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"storage":{"driver":"postgres"}}`)
	if _, err := New(context.Background(), path); err == nil {
		t.Fatal("expected error")
	}
}

func TestStopWithoutStart(t *testing.T) {
	path := writeConfig(t, `{"logging":{"level":"error"}}`)
	a, err := New(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatal(err)
	}
}

func TestMapTelegramChannelDefaults(t *testing.T) {
	t.Parallel()
	cc, err := mapTelegramChannel(&config.Config{Telegram: config.TelegramConfig{HealthCheck: "off"}})
	if err != nil {
		t.Fatal(err)
	}
	if cc.EphemeralTTL != 10*time.Second || cc.HealthCheck != "off" {
		t.Fatalf("cc=%+v", cc)
	}
	if _, err := mapTelegramTransport(&config.Config{Telegram: config.TelegramConfig{PollTimeout: "x"}}); err == nil {
		t.Fatal("expected duration error")
	}
}
