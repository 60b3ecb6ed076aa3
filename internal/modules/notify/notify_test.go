// README: Fanout, hub and push message tests.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"movedispatch/internal/types"
)

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, types.ID, string, any) { c.n++ }

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	Fanout{a, Nop{}, b}.Notify(context.Background(), "u1", EventStatus, nil)
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected each sink once, got %d/%d", a.n, b.n)
	}
}

func TestHubDeliversToConnectedUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, types.ID(r.URL.Query().Get("user")))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Notify(context.Background(), "u2", EventStatus, map[string]string{"ignored": "yes"})
	hub.Notify(context.Background(), "u1", EventOffer, map[string]string{"move_id": "m1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != EventOffer || msg.Data["move_id"] != "m1" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestHubNotifyWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Notify(context.Background(), "nobody", EventStatus, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("notify blocked")
	}
}

func TestPushMessage(t *testing.T) {
	msg, err := pushMessage("u1", EventPaymentLink, map[string]string{"url": "https://pay"})
	if err != nil {
		t.Fatalf("push message: %v", err)
	}
	if msg.Topic != "user_u1" || msg.Data["type"] != EventPaymentLink {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.Data["payload"], "https://pay") {
		t.Fatalf("payload missing: %q", msg.Data["payload"])
	}
}
