package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/notify"
	"github.com/flowdeskhq/flowdesk/internal/store/memory"
)

func newEcho(handlers ...interface{ Register(e *echo.Echo) }) *echo.Echo {
	e := echo.New()
	for _, h := range handlers {
		h.Register(e)
	}
	return e
}

func TestPing(t *testing.T) {
	e := newEcho(NewPingHandler(slog.Default()))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodHead, "/health", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestListQueues(t *testing.T) {
	st := memory.NewStore()
	st.AddQueue(models.Queue{TenantID: 1, Name: "Support", Ordinal: 2})
	st.AddQueue(models.Queue{TenantID: 1, Name: "Sales", Ordinal: 1})
	st.AddQueue(models.Queue{TenantID: 2, Name: "Other", Ordinal: 1})

	e := newEcho(NewQueuesHandler(slog.Default(), st))
	req := httptest.NewRequest(http.MethodGet, "/tenants/1/queues", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out []queueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d queues, want 2", len(out))
	}
	if out[0].Name != "Sales" || out[1].Name != "Support" {
		t.Fatalf("queues out of menu order: %v", out)
	}

	req = httptest.NewRequest(http.MethodGet, "/tenants/abc/queues", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric tenant: status = %d", rec.Code)
	}
}

func TestListOptionsDescends(t *testing.T) {
	st := memory.NewStore()
	queue := st.AddQueue(models.Queue{TenantID: 1, Name: "Support", Ordinal: 1})
	parent := st.AddOption(models.QueueOption{QueueID: queue.ID, Label: "1", Title: "Billing"})
	st.AddOption(models.QueueOption{QueueID: queue.ID, ParentID: parent.ID, Label: "1", Title: "Invoices"})

	e := newEcho(NewQueuesHandler(slog.Default(), st))
	req := httptest.NewRequest(http.MethodGet, "/queues/"+queue.ID+"/options?parent_id="+parent.ID, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out []queueOptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Title != "Invoices" {
		t.Fatalf("children = %v", out)
	}
}

func TestEventStream(t *testing.T) {
	hub := notify.NewHub()
	e := newEcho(NewEventsHandler(slog.Default(), hub))
	server := httptest.NewServer(e)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/tenants/1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	// The subscription races the publish; give the stream a moment.
	go func() {
		time.Sleep(50 * time.Millisecond)
		hub.Notify(notify.Event{Topic: notify.TopicTicket, TenantID: 1, Data: notify.Marshal(map[string]string{"id": "t1"})})
	}()

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v (lines so far: %v)", err, lines)
		}
		lines = append(lines, strings.TrimRight(line, "\n"))
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	if lines[0] != "event: "+string(notify.TopicTicket) {
		t.Fatalf("event line = %q", lines[0])
	}
	if !strings.Contains(lines[len(lines)-1], `"t1"`) {
		t.Fatalf("data line = %q", lines[len(lines)-1])
	}
}
