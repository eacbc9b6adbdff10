package chat

import "testing"

func TestNotifierSkipsFirstSnapshotAndOwnMessages(t *testing.T) {
	notifier := NewNotifier("me")

	initial := []Message{{MessageID: "m1", SenderID: "friend", Text: "old"}}
	if alerts := notifier.Observe(initial); len(alerts) != 0 {
		t.Fatalf("first snapshot must not alert, got %+v", alerts)
	}

	next := append(initial,
		Message{MessageID: "m2", SenderID: "me", Text: "mine"},
		Message{MessageID: "m3", SenderID: "friend", SenderName: "Kim", Text: "new", RoomCode: "1234"},
	)
	alerts := notifier.Observe(next)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %+v", alerts)
	}
	if alerts[0].MessageID != "m3" || alerts[0].SenderName != "Kim" || alerts[0].RoomCode != "1234" {
		t.Fatalf("unexpected alert %+v", alerts[0])
	}

	if alerts := notifier.Observe(next); len(alerts) != 0 {
		t.Fatalf("repeated snapshot must not alert again, got %+v", alerts)
	}
}
