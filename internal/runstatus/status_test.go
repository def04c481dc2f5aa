package runstatus

import "testing"

func TestStateString(t *testing.T) {
	want := []string{"DISCONNECTED", "HANDSHAKING", "CONNECTED", "SUBSCRIBING", "STREAMING", "RECONNECTING", "FAILED"}
	for s := Disconnected; s <= Failed; s++ {
		if got := s.String(); got != want[s] {
			t.Fatalf("State(%d).String() = %q, want %q", int(s), got, want[s])
		}
	}
	if got := State(99).String(); got != "UNKNOWN" {
		t.Fatalf("State(99).String() = %q", got)
	}
	if got := State(-1).String(); got != "UNKNOWN" {
		t.Fatalf("State(-1).String() = %q", got)
	}
}

func TestStateActive(t *testing.T) {
	inactive := map[State]bool{Disconnected: true, Failed: true}
	for s := Disconnected; s <= Failed; s++ {
		if got := s.Active(); got == inactive[s] {
			t.Fatalf("%s.Active() = %v", s, got)
		}
	}
}
