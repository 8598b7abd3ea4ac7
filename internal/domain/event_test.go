package domain

import (
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	a := Fingerprint(EventStageChange, "B-217-014", "deliberating", "vote_pending")
	b := Fingerprint(EventStageChange, "B-217-014", "deliberating", "vote_pending")
	if a != b {
		t.Fatalf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	t.Parallel()

	base := Fingerprint(EventStageChange, "B-217-014", "deliberating", "vote_pending")
	cases := map[string]string{
		"different subject":   Fingerprint(EventStageChange, "B-217-015", "deliberating", "vote_pending"),
		"different type":      Fingerprint(EventMeetingCreated, "B-217-014", "deliberating", "vote_pending"),
		"different new stage": Fingerprint(EventStageChange, "B-217-014", "deliberating", "enacted"),
		"reversed transition": Fingerprint(EventStageChange, "B-217-014", "vote_pending", "deliberating"),
	}
	for name, got := range cases {
		if got == base {
			t.Errorf("%s collided with base fingerprint", name)
		}
	}
}

func TestNewStageChange(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := NewStageChange("B-217-014", StageDeliberating, StageVotePending, at)

	if ev.Topic != "item/B-217-014" {
		t.Fatalf("unexpected topic %q", ev.Topic)
	}
	if ev.Payload["old_stage"] != "deliberating" || ev.Payload["new_stage"] != "vote_pending" {
		t.Fatalf("unexpected payload %v", ev.Payload)
	}
	if ev.Fingerprint != Fingerprint(EventStageChange, "B-217-014", "deliberating", "vote_pending") {
		t.Fatalf("fingerprint does not cover the transition")
	}
	if ev.EventID == "" {
		t.Fatal("missing event id")
	}
}

func TestNewMeetingCreated(t *testing.T) {
	t.Parallel()

	m := CanonicalMeeting{
		MeetingID: "M-2025-06-01-budget",
		Date:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Chamber:   "衆議院",
		Committee: "予算委員会",
	}
	ev := NewMeetingCreated(m, time.Now())

	if ev.Topic != "committee/予算委員会" {
		t.Fatalf("unexpected topic %q", ev.Topic)
	}
	if ev.Payload["date"] != "2025-06-01" {
		t.Fatalf("unexpected date payload %q", ev.Payload["date"])
	}
	// The fingerprint covers the meeting id only: re-observing the same
	// meeting must collide.
	if ev.Fingerprint != Fingerprint(EventMeetingCreated, m.MeetingID) {
		t.Fatal("fingerprint should depend on the meeting id only")
	}
}
