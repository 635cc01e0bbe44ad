package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/larder/internal/bus"
)

func TestClientStreamsEventsAndClosesOnSubscriptionEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := bus.NewBroker(logger)
	subCh := make(chan *bus.Subscription, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		sub := broker.Subscribe(42)
		subCh <- sub
		NewClient(sub, conn).Run(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	sub := <-subCh

	broker.Publish(42, bus.NewEvent("member", "added", 7, nil))
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !strings.Contains(string(data), "member_added") {
		t.Errorf("frame = %s, want member_added", data)
	}

	// Ending the subscription, as the broker does for a slow consumer or on
	// shutdown, must close the connection with a retryable code so the
	// client knows to resubscribe and re-fetch state.
	sub.Close()
	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected close after subscription ended")
	}
	if got := ws.CloseStatus(err); got != ws.StatusTryAgainLater {
		t.Errorf("close status = %v, want %v", got, ws.StatusTryAgainLater)
	}
}

func TestHandleReleasesSubscriptionOnDisconnect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := bus.NewBroker(logger)
	stream := Handle(broker, logger)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream(w, r, 7)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForSubscribers := func(want int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for broker.SubscriberCount(7) != want {
			if time.Now().After(deadline) {
				t.Fatalf("subscribers = %d, want %d", broker.SubscriberCount(7), want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	waitForSubscribers(1)
	conn.Close(ws.StatusNormalClosure, "")
	waitForSubscribers(0)
}
