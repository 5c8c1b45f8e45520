package channels

import "testing"

func TestChatAllowed(t *testing.T) {
	open := &TelegramChannel{allowed: map[string]bool{}}
	if !open.chatAllowed("12345") {
		t.Error("empty allow-list must admit everyone")
	}

	restricted := &TelegramChannel{allowed: map[string]bool{"100": true, "-200": true}}
	if !restricted.chatAllowed("100") || !restricted.chatAllowed("-200") {
		t.Error("listed chats rejected")
	}
	if restricted.chatAllowed("999") {
		t.Error("unlisted chat admitted")
	}
}
