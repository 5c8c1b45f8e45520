package channels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/config"
)

func newViewerFixture(t *testing.T) (*ViewerChannel, *bus.MessageBus, *websocket.Conn) {
	t.Helper()
	mb := bus.NewMessageBus()
	c, err := NewViewerChannel(config.ViewerConfig{Enabled: true, ListenAddr: "127.0.0.1:0"}, mb, nil)
	if err != nil {
		t.Fatalf("NewViewerChannel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = ctx, cancel
	c.setRunning(true)
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(c.handleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?client_id=viewer1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return c, mb, conn
}

func TestViewerInboundMessage(t *testing.T) {
	_, mb, conn := newViewerFixture(t)

	if err := conn.WriteJSON(wsIncoming{Content: "hello mama", SenderID: "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if msg.Source != "viewer" || msg.ChannelID != "ws:viewer1" || msg.UserID != "alice" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Content != "hello mama" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestViewerSendRoundTrip(t *testing.T) {
	c, _, conn := newViewerFixture(t)

	// Wait until the read pump registered the connection.
	waitFor(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		_, ok := c.chatConns["ws:viewer1"]
		return ok
	})

	err := c.Send(context.Background(), bus.OutboundMessage{
		Source:    "viewer",
		ChannelID: "ws:viewer1",
		Content:   "reply text",
		AgentID:   "mama",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out wsOutgoing
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Content != "reply text" || out.AgentID != "mama" {
		t.Errorf("out = %+v", out)
	}
}

func TestViewerSendUnknownChannel(t *testing.T) {
	c, _, _ := newViewerFixture(t)
	err := c.Send(context.Background(), bus.OutboundMessage{ChannelID: "ws:ghost", Content: "x"})
	if err == nil || !strings.Contains(err.Error(), "no connection") {
		t.Errorf("err = %v", err)
	}
}

func TestViewerImagesBecomeAttachments(t *testing.T) {
	_, mb, conn := newViewerFixture(t)

	if err := conn.WriteJSON(wsIncoming{Content: "look", Images: []string{"aGVsbG8="}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Type != "image" {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
	if !strings.HasPrefix(msg.Attachments[0].URL, "data:image/png;base64,") {
		t.Errorf("url = %q", msg.Attachments[0].URL)
	}
}
