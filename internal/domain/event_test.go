package domain

import "testing"

func TestConfidenceLevels(t *testing.T) {
	cases := []struct {
		confidence float64
		want       ConfidenceLevel
	}{
		{0.99, ConfidenceAutoExecute},
		{0.95, ConfidenceAutoExecute},
		{0.949, ConfidenceHigh},
		{0.85, ConfidenceHigh},
		{0.84, ConfidenceMedium},
		{0.70, ConfidenceMedium},
		{0.69, ConfidenceLow},
		{0.50, ConfidenceLow},
		{0.49, ConfidenceUncertain},
		{0.0, ConfidenceUncertain},
	}
	for _, c := range cases {
		d := AgentDecision{Confidence: c.confidence}
		if got := d.Level(); got != c.want {
			t.Errorf("confidence %.3f: level %s, want %s", c.confidence, got, c.want)
		}
	}
}

func TestNewEventFillsEnvelope(t *testing.T) {
	ev := NewEvent("invoice_detected", "inbox-watcher", nil)
	if ev.EventID == "" {
		t.Fatal("event id must be assigned")
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("timestamp must be assigned")
	}
	if ev.Payload == nil {
		t.Fatal("nil payload must be normalized to an empty map")
	}
}

func TestDeriveSessionState(t *testing.T) {
	if s := DeriveSessionState(nil); s != SessionRunning {
		t.Fatalf("empty session must be running, got %s", s)
	}

	cmds := []Command{
		{Status: CommandCompleted},
		{Status: CommandQueued},
	}
	if s := DeriveSessionState(cmds); s != SessionRunning {
		t.Fatalf("no blocked commands: expected running, got %s", s)
	}

	cmds = append(cmds, Command{Status: CommandBlocked})
	if s := DeriveSessionState(cmds); s != SessionBlocked {
		t.Fatalf("one blocked command must block the session, got %s", s)
	}
}
