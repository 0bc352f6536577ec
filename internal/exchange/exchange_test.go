package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"duel_ai/internal/combat"
)

func TestReceiveReturnsSendOrder(t *testing.T) {
	const n = 200
	c := NewChannel()

	go func() {
		for i := 0; i < n; i++ {
			c.PushCharacter(i, combat.KindEnemy, combat.Vec3{X: float64(i)}, combat.Vec3{}, combat.Vec3{}, true)
			c.Send(float64(i))
		}
	}()

	for i := 0; i < n; i++ {
		s := c.Receive()
		if s.Time != float64(i) || s.Seq != uint64(i+1) {
			t.Fatalf("receive %d: time %v seq %d", i, s.Time, s.Seq)
		}
		if len(s.Characters) != 1 || s.Characters[0].ID != i {
			t.Fatalf("receive %d: characters %+v", i, s.Characters)
		}
	}
	if c.Len() != 0 {
		t.Errorf("queue not drained: %d", c.Len())
	}
}

func TestSendInstallsFreshStaging(t *testing.T) {
	c := NewChannel()
	c.PushEventOf(combat.EventDamageDealt, Caster(1), Target(combat.PlayerID), WithDamage(2))
	c.Send(1)
	c.Send(2)

	first, second := c.Receive(), c.Receive()
	if len(first.Events) != 1 || len(second.Events) != 0 {
		t.Fatalf("events leaked across snapshots: %d, %d", len(first.Events), len(second.Events))
	}
	ev := first.Events[0]
	if ev.CasterID != 1 || ev.TargetID != combat.PlayerID || ev.Damage != 2 || ev.Action != combat.NoAction {
		t.Errorf("event = %+v", ev)
	}
}

func TestEventDefaults(t *testing.T) {
	ev := NewEvent(combat.EventGameEnd)
	if ev.CasterID != combat.UnknownID || ev.TargetID != combat.UnknownID || ev.Action != combat.NoAction || ev.Damage != 0 {
		t.Errorf("defaults = %+v", ev)
	}
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	c := NewChannel()
	got := make(chan *Snapshot)
	go func() { got <- c.Receive() }()

	select {
	case s := <-got:
		t.Fatalf("Receive returned %+v before any Send", s)
	case <-time.After(20 * time.Millisecond):
	}
	c.Send(3)
	select {
	case s := <-got:
		if s.Time != 3 {
			t.Errorf("time = %v", s.Time)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not wake after Send")
	}
}

func TestReceiveContextCancel(t *testing.T) {
	c := NewChannel()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.ReceiveContext(ctx)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveContext ignored cancellation")
	}
}

func TestConcurrentProducersKeepSealOrder(t *testing.T) {
	c := NewChannel()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.Send(0)
			}
		}()
	}
	wg.Wait()

	for want := uint64(1); want <= 200; want++ {
		if s := c.Receive(); s.Seq != want {
			t.Fatalf("seq %d, want %d", s.Seq, want)
		}
	}
}

func TestClaimAdmitsOneConsumer(t *testing.T) {
	c := NewChannel()
	release, err := c.Claim()
	if err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	if !c.Claimed() {
		t.Error("Claimed = false while held")
	}
	if _, err := c.Claim(); !errors.Is(err, ErrClaimed) {
		t.Fatalf("second Claim = %v, want ErrClaimed", err)
	}
	release()
	release()
	if c.Claimed() {
		t.Error("Claimed = true after release")
	}
	again, err := c.Claim()
	if err != nil {
		t.Fatalf("Claim after release: %v", err)
	}
	// a stale release must not free the new holder
	release()
	if !c.Claimed() {
		t.Error("stale release freed the channel")
	}
	again()
}

func TestTakeOrderConsumesOnce(t *testing.T) {
	o := NewOutbox()
	o.SetOrder(7, combat.LightAttack, combat.Vec3{X: 1}, combat.Vec3{X: -1})
	if !o.HasOrder(7) {
		t.Fatal("HasOrder false after SetOrder")
	}
	if !o.HasOrder(7) {
		t.Fatal("HasOrder consumed the order")
	}
	ord, ok := o.TakeOrder(7)
	if !ok || ord.Action != combat.LightAttack || ord.CharacterID != 7 {
		t.Fatalf("TakeOrder = %+v, %v", ord, ok)
	}
	if _, ok := o.TakeOrder(7); ok {
		t.Error("second TakeOrder returned an order")
	}
}

func TestLatestOrderWins(t *testing.T) {
	o := NewOutbox()
	o.SetOrder(7, combat.Guard, combat.Vec3{}, combat.Vec3{Z: 1})
	o.SetOrder(7, combat.Roll, combat.Vec3{X: 2}, combat.Vec3{X: 1})
	if o.Pending() != 1 {
		t.Fatalf("pending = %d", o.Pending())
	}
	ord, ok := o.TakeOrder(7)
	if !ok || ord.Action != combat.Roll || ord.Position != (combat.Vec3{X: 2}) {
		t.Errorf("TakeOrder = %+v, %v", ord, ok)
	}
	if _, ok := o.TakeOrder(8); ok {
		t.Error("order for a character never ordered")
	}
}
