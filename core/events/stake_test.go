package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"stakepool/crypto"
)

func TestStakedEventAttributes(t *testing.T) {
	addr := crypto.DeriveAddressString("test", "staker")
	evt := Staked{
		Account:    addr,
		Amount:     100,
		LockPeriod: 30 * 24 * time.Hour,
		UnlockAt:   time.Unix(1_700_000_000, 0),
		Premium:    false,
		NewTotal:   300,
	}.Event()
	if evt.Type != TypeStaked {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["addr"] != addr.String() {
		t.Fatalf("unexpected addr attr: %s", evt.Attributes["addr"])
	}
	if evt.Attributes["amount"] != "100" || evt.Attributes["lockSeconds"] != "2592000" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if _, ok := evt.Attributes["premium"]; ok {
		t.Fatalf("premium attr should be omitted for non-premium stakes")
	}
}

func TestUnstakedEventShortfallOmittedWhenZero(t *testing.T) {
	evt := UnstakedAndClaimed{Principal: 100, Reward: 3}.Event()
	if _, ok := evt.Attributes["shortfall"]; ok {
		t.Fatalf("unexpected shortfall attr")
	}
	evt = UnstakedAndClaimed{Principal: 100, Reward: 3, Shortfall: 7}.Event()
	if evt.Attributes["shortfall"] != "7" {
		t.Fatalf("unexpected shortfall attr: %+v", evt.Attributes)
	}
}

func TestBusReplaysAfterCursor(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(2)
	bus.Emit(RewardShortfall{Attempted: 1})
	bus.Emit(RewardShortfall{Attempted: 2})
	bus.Emit(RewardShortfall{Attempted: 3})

	ctx, cancel := context.WithCancel(context.Background())
	_, stop, backlog := bus.Subscribe(ctx, "2")
	if len(backlog) != 1 || backlog[0].Sequence != 3 {
		t.Fatalf("unexpected backlog: %+v", backlog)
	}
	stop()
	cancel()

	_, stop, backlog = bus.Subscribe(nil, "")
	defer stop()
	if len(backlog) != 2 {
		t.Fatalf("history should be bounded to 2, got %d", len(backlog))
	}
}

func TestBusDeliversLiveEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	updates, stop, _ := bus.Subscribe(ctx, "")
	defer stop()

	bus.Emit(StakePaused{Operation: StakeOperationStake, Reason: "maintenance"})
	select {
	case env := <-updates:
		if env.Event.Type != TypeStakePaused || env.Cursor != "1" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for bus.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not released after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBusCancelReleasesWatcherBeforeContext(t *testing.T) {
	ctx, release := context.WithCancel(context.Background())
	defer release()

	bus := NewBus(0)
	updates, stop, _ := bus.Subscribe(ctx, "")
	stop()
	stop()
	if bus.Subscribers() != 0 {
		t.Fatalf("subscription not released by cancel")
	}
	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel")
	}
	// ctx is still live here, so any remaining watcher goroutine is a leak.
	goleak.VerifyNone(t)
}

func TestRecorderAndMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, nil, b}.Emit(Staked{Amount: 1})
	if len(a.Events) != 1 || len(b.Events) != 1 {
		t.Fatalf("multi did not fan out")
	}
	if got := a.Types(); len(got) != 1 || got[0] != TypeStaked {
		t.Fatalf("unexpected types: %v", got)
	}
}
