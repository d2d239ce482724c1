package doseevent

import (
	"testing"
	"time"

	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusFired, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusTaken, false},
		{StatusPending, StatusMissed, false},
		{StatusFired, StatusTaken, true},
		{StatusFired, StatusMissed, true},
		// Cancellation only reaps events that have not fired.
		{StatusFired, StatusCancelled, false},
		{StatusFired, StatusPending, false},
		// Late confirmation after the grace window expired.
		{StatusMissed, StatusTaken, true},
		{StatusMissed, StatusPending, false},
		{StatusMissed, StatusCancelled, false},
		{StatusTaken, StatusMissed, false},
		{StatusTaken, StatusPending, false},
		{StatusCancelled, StatusFired, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusHelpers(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusFired, StatusTaken, StatusMissed, StatusCancelled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("unknown").Valid() {
		t.Error("unknown status should be invalid")
	}
	if !StatusTaken.Terminal() || !StatusCancelled.Terminal() {
		t.Error("taken and cancelled are terminal")
	}
	if StatusFired.Terminal() || StatusMissed.Terminal() {
		t.Error("fired and missed still have exits")
	}
}

func TestTransitionSetsTimestamps(t *testing.T) {
	e := New("med-1", "user-1", time.Now().Add(time.Hour))
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := e.Transition(StatusFired, at); err != nil {
		t.Fatalf("pending->fired: %v", err)
	}
	if e.FiredAt == nil || !e.FiredAt.Equal(at) {
		t.Errorf("FiredAt = %v", e.FiredAt)
	}

	acted := at.Add(10 * time.Minute)
	if err := e.Transition(StatusTaken, acted); err != nil {
		t.Fatalf("fired->taken: %v", err)
	}
	if e.ActedAt == nil || !e.ActedAt.Equal(acted) {
		t.Errorf("ActedAt = %v", e.ActedAt)
	}
}

func TestTransitionRejectsIllegal(t *testing.T) {
	e := New("med-1", "user-1", time.Now())
	if err := e.Transition(StatusFired, time.Now()); err != nil {
		t.Fatal(err)
	}
	err := e.Transition(StatusCancelled, time.Now())
	if !errors.IsCode(err, errors.ErrCodeInvalidTransition) {
		t.Fatalf("expected invalid-transition error, got %v", err)
	}
	if e.Status != StatusFired {
		t.Errorf("failed transition mutated status to %s", e.Status)
	}
}

func TestDue(t *testing.T) {
	now := time.Now()
	e := New("med-1", "user-1", now.Add(-time.Minute))
	if !e.Due(now) {
		t.Error("past pending event should be due")
	}
	e.ScheduledAt = now.Add(time.Minute)
	if e.Due(now) {
		t.Error("future event should not be due")
	}
	e.ScheduledAt = now.Add(-time.Minute)
	e.Status = StatusFired
	if e.Due(now) {
		t.Error("fired event is never due again")
	}
}

func TestGraceExpired(t *testing.T) {
	now := time.Now()
	e := New("med-1", "user-1", now.Add(-2*time.Hour))
	if e.GraceExpired(now, time.Hour) {
		t.Error("pending event has no grace clock")
	}
	fired := now.Add(-90 * time.Minute)
	e.Status = StatusFired
	e.FiredAt = &fired
	if !e.GraceExpired(now, time.Hour) {
		t.Error("fired 90m ago with 1h grace should be expired")
	}
	if e.GraceExpired(now, 2*time.Hour) {
		t.Error("within a 2h grace window")
	}
}

func TestPartitionForUserStable(t *testing.T) {
	users := []common.UserID{"alice", "bob", "carol", "dave"}
	for _, u := range users {
		p := common.PartitionForUser(u, 16)
		if p < 0 || p >= 16 {
			t.Fatalf("partition %d out of range", p)
		}
		for i := 0; i < 5; i++ {
			if common.PartitionForUser(u, 16) != p {
				t.Fatalf("partition for %s not stable", u)
			}
		}
	}
	if common.PartitionForUser("anyone", 1) != 0 {
		t.Error("single partition must map to 0")
	}
}
