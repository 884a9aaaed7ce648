package hub

import (
	"fmt"
	"testing"
)

func TestMessageLogAppendOrder(t *testing.T) {
	l := NewMessageLog()
	author := u("u1", "alice")

	var ids []string
	for i := 0; i < 50; i++ {
		msg := l.Append(author, fmt.Sprintf("message %d", i))
		if msg.ID == "" {
			t.Fatal("Append produced a message without an id")
		}
		if msg.Timestamp.IsZero() {
			t.Fatal("Append produced a message without a timestamp")
		}
		ids = append(ids, msg.ID)
	}

	replay := l.Replay()
	if len(replay) != 50 {
		t.Fatalf("Replay returned %d messages, want 50", len(replay))
	}

	seen := make(map[string]bool)
	for i, msg := range replay {
		if msg.ID != ids[i] {
			t.Fatalf("replay[%d].ID = %q, want %q (order broken)", i, msg.ID, ids[i])
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate message id %q in replay", msg.ID)
		}
		seen[msg.ID] = true
		if want := fmt.Sprintf("message %d", i); msg.Text != want {
			t.Fatalf("replay[%d].Text = %q, want %q", i, msg.Text, want)
		}
	}
}

func TestMessageLogReplayIsACopy(t *testing.T) {
	l := NewMessageLog()
	l.Append(u("u1", "alice"), "original")

	first := l.Replay()
	first[0].Text = "tampered"

	second := l.Replay()
	if second[0].Text != "original" {
		t.Fatalf("log content changed through a replay slice: %q", second[0].Text)
	}
}

func TestMessageLogAuthorSnapshot(t *testing.T) {
	l := NewMessageLog()
	author := u("u1", "alice")
	l.Append(author, "hello")

	// Author data is captured at send time.
	author.Username = "renamed"
	if got := l.Replay()[0].Author.Username; got != "alice" {
		t.Fatalf("stored author = %q, want snapshot at send time", got)
	}
}
