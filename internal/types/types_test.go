package types

import "testing"

func TestStatusTransitionMatrix(t *testing.T) {
	all := []Status{StatusStreaming, StatusReading, StatusDone}
	valid := map[[2]Status]bool{
		{StatusStreaming, StatusReading}: true,
		{StatusStreaming, StatusDone}:    true,
		{StatusReading, StatusStreaming}: true,
		{StatusReading, StatusDone}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			want := valid[[2]Status{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}

			next, err := from.Transition(to)
			if want {
				if err != nil {
					t.Errorf("Transition(%s -> %s): %v", from, to, err)
				}
				if next != to {
					t.Errorf("Transition(%s -> %s) = %s", from, to, next)
				}
				continue
			}
			if err == nil {
				t.Errorf("Transition(%s -> %s) unexpectedly allowed", from, to)
			}
			if next != from {
				t.Errorf("rejected transition must keep %s, got %s", from, next)
			}
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusDone.Terminal() {
		t.Error("done must be terminal")
	}
	if StatusStreaming.Terminal() || StatusReading.Terminal() {
		t.Error("streaming and reading must not be terminal")
	}
}
