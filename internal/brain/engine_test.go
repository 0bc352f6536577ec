package brain

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"duel_ai/internal/combat"
	"duel_ai/internal/config"
	"duel_ai/internal/exchange"
	"duel_ai/internal/neural"
)

type fakeRecorder struct {
	mu       sync.Mutex
	networks []SavedNetwork
	runs     []RunSummary
}

func (f *fakeRecorder) Record(s SavedNetwork) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, s)
	return nil
}

func (f *fakeRecorder) RecordRun(r RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

type fakeTelemetry struct{ frames []Frame }

func (f *fakeTelemetry) Publish(fr Frame) { f.frames = append(f.frames, fr) }

func testConfig(t *testing.T) config.EngineConfig {
	t.Helper()
	cfg := config.Default().Engine
	cfg.NetworkDir = t.TempDir()
	cfg.Seed = 7
	return cfg
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *exchange.Channel, *exchange.Outbox) {
	t.Helper()
	ch, out := exchange.NewChannel(), exchange.NewOutbox()
	e, err := New(testConfig(t), ch, out, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, ch, out
}

func obs(id int, kind combat.CharacterKind, pos, dir combat.Vec3) exchange.Observation {
	return exchange.Observation{ID: id, Kind: kind, Position: pos, Direction: dir, Visible: true}
}

func started(caster int, kind combat.ActionKind) exchange.Event {
	ev := exchange.NewEvent(combat.EventActionStarted)
	ev.CasterID = caster
	ev.Action = kind
	return ev
}

func finished(caster int) exchange.Event {
	ev := exchange.NewEvent(combat.EventActionFinished)
	ev.CasterID = caster
	return ev
}

func damage(caster, target int, d float64) exchange.Event {
	ev := exchange.NewEvent(combat.EventDamageDealt)
	ev.CasterID, ev.TargetID, ev.Damage = caster, target, d
	return ev
}

// duelists is the player at the origin facing +Z and enemy 7 two units in
// front, facing back.
func duelists() []exchange.Observation {
	return []exchange.Observation{
		obs(combat.PlayerID, combat.KindPlayer, combat.Vec3{}, combat.Vec3{Z: 1}),
		obs(7, combat.KindEnemy, combat.Vec3{Z: 2}, combat.Vec3{Z: -1}),
	}
}

func mustProcess(t *testing.T, e *Engine, s *exchange.Snapshot) bool {
	t.Helper()
	done, err := e.Process(s)
	if err != nil {
		t.Fatalf("Process(t=%v): %v", s.Time, err)
	}
	return done
}

func TestSnapshotCreatesCharactersAndOrdersIdleEnemy(t *testing.T) {
	e, ch, out := newTestEngine(t)

	ch.PushCharacter(combat.PlayerID, combat.KindPlayer, combat.Vec3{}, combat.Vec3{Z: 1}, combat.Vec3{}, true)
	ch.PushCharacter(7, combat.KindEnemy, combat.Vec3{X: 5}, combat.Vec3{X: -1}, combat.Vec3{}, true)
	ch.Send(1.0)

	if mustProcess(t, e, ch.Receive()) {
		t.Fatal("snapshot without GameEnd reported done")
	}
	p, c := e.Character(combat.PlayerID), e.Character(7)
	if p == nil || c == nil {
		t.Fatalf("characters not created: player=%v enemy=%v", p, c)
	}
	if !c.IsIdle() {
		t.Error("enemy 7 should be idle")
	}
	if c.LastSeen != 1.0 || c.Position != (combat.Vec3{X: 5}) {
		t.Errorf("enemy 7 not updated from observation: %+v", c)
	}
	if !out.HasOrder(7) {
		t.Error("no order for idle enemy 7")
	}
	if out.HasOrder(combat.PlayerID) {
		t.Error("player must never receive an order")
	}
}

func TestPlayerActionTargetsNearestEnemyAndTrainsAnticipation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mustProcess(t, e, &exchange.Snapshot{
		Time:       1,
		Characters: duelists(),
		Events:     []exchange.Event{started(combat.PlayerID, combat.LightAttack)},
	})

	p, c := e.Character(combat.PlayerID), e.Character(7)
	if p.Current == nil || p.Current.Target != c {
		t.Fatalf("player action target = %+v, want enemy 7", p.Current)
	}
	if got := p.Current.CastDistance; math.Abs(got-2) > 1e-9 {
		t.Errorf("cast distance = %v, want 2", got)
	}
	if got := p.Current.CastAngleForCaster; got > 1e-9 {
		t.Errorf("cast angle = %v, want 0", got)
	}

	nets := e.Ensemble()
	if got := nets.FromPlayer[combat.NoAction].Samples(); got != 1 {
		t.Errorf("anticipate-player NoAction samples = %d, want 1", got)
	}
	if got := nets.FromEnemy[combat.NoAction].Samples(); got != 1 {
		t.Errorf("anticipate-enemy NoAction samples = %d, want 1", got)
	}
	if got := nets.FromPlayer[combat.LightAttack].Samples(); got != 0 {
		t.Errorf("anticipate-player LightAttack samples = %d, want 0", got)
	}

	// the enemy answers; its action targets the player and the player's
	// action latches the answer
	mustProcess(t, e, &exchange.Snapshot{
		Time:       1.2,
		Characters: duelists(),
		Events:     []exchange.Event{started(7, combat.Guard)},
	})
	if c.Current == nil || c.Current.Target != p {
		t.Fatalf("enemy action target = %+v, want player", c.Current)
	}
	if p.Current.TargetActionKind != combat.Guard {
		t.Errorf("latched kind = %v, want Guard", p.Current.TargetActionKind)
	}
	if !p.Current.Success {
		t.Error("a guarded attack counts as a successful bait")
	}
	if got := p.Current.TargetActionAdvantage; math.Abs(got-(1-1.2)) > 1e-9 {
		t.Errorf("advantage = %v, want -0.2", got)
	}
}

func TestEventsApplyInPriorityOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{
		Time:       1,
		Characters: duelists(),
		Events:     []exchange.Event{started(7, combat.HeavyAttack)},
	})

	// arrival order would finish the new action and drop the damage
	mustProcess(t, e, &exchange.Snapshot{
		Time:       2,
		Characters: duelists(),
		Events: []exchange.Event{
			started(7, combat.LightAttack),
			finished(7),
			damage(7, combat.PlayerID, 2),
		},
	})

	c := e.Character(7)
	if c.Previous == nil || c.Previous.Kind != combat.HeavyAttack {
		t.Fatalf("previous = %+v, want HeavyAttack", c.Previous)
	}
	if c.Previous.DamageDealt != 2 || !c.Previous.Success {
		t.Errorf("damage not applied before finish: %+v", c.Previous)
	}
	if c.Current == nil || c.Current.Kind != combat.LightAttack {
		t.Errorf("current = %+v, want LightAttack", c.Current)
	}
	if got := e.Ensemble().Action[combat.HeavyAttack].Samples(); got != 1 {
		t.Errorf("HeavyAttack action samples = %d, want 1", got)
	}
	if got := e.Ensemble().Reaction[combat.HeavyAttack][combat.NoAction].Samples(); got != 1 {
		t.Errorf("HeavyAttack/NoAction reaction samples = %d, want 1", got)
	}
}

func TestDeathStopsOrders(t *testing.T) {
	e, _, out := newTestEngine(t)
	death := exchange.NewEvent(combat.EventCharacterDeath)
	death.CasterID, death.TargetID = combat.PlayerID, 7

	mustProcess(t, e, &exchange.Snapshot{Time: 1, Characters: duelists(), Events: []exchange.Event{death}})
	if e.Character(7).Alive {
		t.Fatal("enemy 7 still alive")
	}
	if out.HasOrder(7) {
		t.Error("dead character received an order")
	}
}

func TestFinishOnIdleCharacterIsIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{Time: 1, Characters: duelists(), Events: []exchange.Event{finished(7)}})
	for _, k := range combat.ActionKinds {
		if n := e.Ensemble().Action[k].Samples(); n != 0 {
			t.Errorf("action %v trained %d times from an idle finish", k, n)
		}
	}
}

func TestUnknownCharacterIsFatal(t *testing.T) {
	cases := []struct {
		name string
		ev   exchange.Event
	}{
		{"start", started(99, combat.Roll)},
		{"finish", finished(99)},
		{"damage caster", damage(99, 7, 1)},
		{"damage target", damage(7, 99, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _, _ := newTestEngine(t)
			_, err := e.Process(&exchange.Snapshot{Time: 1, Characters: duelists(), Events: []exchange.Event{tc.ev}})
			if !errors.Is(err, ErrUnknownCharacter) {
				t.Fatalf("err = %v, want ErrUnknownCharacter", err)
			}
		})
	}
}

func TestRunAbortsWithoutSavingOnProtocolViolation(t *testing.T) {
	e, ch, _ := newTestEngine(t)
	for _, o := range duelists() {
		ch.PushCharacter(o.ID, o.Kind, o.Position, o.Direction, o.Velocity, true)
	}
	ch.Send(1)
	ch.PushEvent(finished(42))
	ch.Send(2)

	err := e.Start(context.Background()).Wait()
	if !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("Wait = %v, want ErrUnknownCharacter", err)
	}
	entries, _ := os.ReadDir(e.cfg.NetworkDir)
	if len(entries) != 0 {
		t.Errorf("%d files written after a fatal error", len(entries))
	}
}

func TestGameEndSavesTrainedNetworks(t *testing.T) {
	rec := &fakeRecorder{}
	tel := &fakeTelemetry{}
	e, ch, _ := newTestEngine(t, WithRecorder(rec), WithTelemetry(tel))
	h := e.Start(context.Background())

	for _, o := range duelists() {
		ch.PushCharacter(o.ID, o.Kind, o.Position, o.Direction, o.Velocity, true)
	}
	ch.Send(0.1)
	ch.PushEvent(exchange.NewEvent(combat.EventGameEnd))
	ch.Send(0.2)

	if err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	trained := e.Ensemble().Trained()
	if trained == 0 {
		t.Fatal("an idle player should train the NoAction anticipation networks")
	}
	if len(rec.networks) != trained {
		t.Errorf("recorded %d networks, want %d", len(rec.networks), trained)
	}
	if len(rec.runs) != 1 || rec.runs[0].Snapshots != 2 {
		t.Errorf("runs = %+v, want one run of 2 snapshots", rec.runs)
	}
	key := AnticipatePlayerKey(combat.NoAction)
	if _, err := os.Stat(neural.Path(e.cfg.NetworkDir, key)); err != nil {
		t.Errorf("%s not saved: %v", key, err)
	}
	if _, err := os.Stat(neural.Path(e.cfg.NetworkDir, ActionKey(combat.Roll))); !os.IsNotExist(err) {
		t.Errorf("untrained network written (stat err %v)", err)
	}
	if len(tel.frames) != 2 {
		t.Errorf("telemetry frames = %d, want 2", len(tel.frames))
	}
}

func TestSavedNetworksAreRestored(t *testing.T) {
	cfg := testConfig(t)
	e1, err := New(cfg, exchange.NewChannel(), exchange.NewOutbox())
	if err != nil {
		t.Fatal(err)
	}
	mustProcess(t, e1, &exchange.Snapshot{Time: 1, Characters: duelists()})
	e1.Ensemble().Save(cfg.NetworkDir)

	e2, err := New(cfg, exchange.NewChannel(), exchange.NewOutbox())
	if err != nil {
		t.Fatal(err)
	}
	n1 := e1.Ensemble().FromEnemy[combat.NoAction]
	n2 := e2.Ensemble().FromEnemy[combat.NoAction]
	if n1.Samples() == 0 || n2.Samples() != n1.Samples() {
		t.Fatalf("samples after reload = %d, want %d", n2.Samples(), n1.Samples())
	}
	in := []float64{2, 0, 0, 0.5}
	a, b := n1.Think(in, 0), n2.Think(in, 0)
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			t.Fatalf("output %d: %v != %v", i, a[i], b[i])
		}
	}
}

func waitClaimed(t *testing.T, ch *exchange.Channel) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !ch.Claimed() {
		if time.Now().After(deadline) {
			t.Fatal("first loop never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSecondRunRefused(t *testing.T) {
	e, ch, _ := newTestEngine(t)
	h := e.Start(context.Background())
	waitClaimed(t, ch)

	if err := e.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v, want ErrAlreadyRunning", err)
	}

	ch.PushEvent(exchange.NewEvent(combat.EventGameEnd))
	ch.Send(1)
	if err := h.Wait(); err != nil {
		t.Fatalf("first loop: %v", err)
	}
	if ch.Claimed() {
		t.Error("channel still claimed after the loop ended")
	}
}

func TestSecondEngineOnSameChannelRefused(t *testing.T) {
	first, ch, _ := newTestEngine(t)
	second, err := New(testConfig(t), ch, exchange.NewOutbox())
	if err != nil {
		t.Fatal(err)
	}
	h := first.Start(context.Background())
	waitClaimed(t, ch)

	if err := second.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second engine Run = %v, want ErrAlreadyRunning", err)
	}

	ch.PushEvent(exchange.NewEvent(combat.EventGameEnd))
	ch.Send(1)
	if err := h.Wait(); err != nil {
		t.Fatalf("first loop: %v", err)
	}
	if first.snapshots != 1 || second.snapshots != 0 {
		t.Errorf("snapshots first=%d second=%d, want 1 and 0", first.snapshots, second.snapshots)
	}

	// once released the channel takes a new consumer
	h2 := second.Start(context.Background())
	waitClaimed(t, ch)
	ch.PushEvent(exchange.NewEvent(combat.EventGameEnd))
	ch.Send(2)
	if err := h2.Wait(); err != nil {
		t.Fatalf("second loop: %v", err)
	}
}

func TestCancelledRunReturnsContextError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	h := e.Start(ctx)
	cancel()
	if err := h.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestOrderGeometry(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{
		Time: 1,
		Characters: []exchange.Observation{
			obs(combat.PlayerID, combat.KindPlayer, combat.Vec3{}, combat.Vec3{Z: 1}),
			obs(7, combat.KindEnemy, combat.Vec3{X: 4}, combat.Vec3{X: -1}),
			obs(8, combat.KindEnemy, combat.Vec3{X: 300}, combat.Vec3{X: -1}),
		},
	})
	near, far := e.Character(7), e.Character(8)
	toward := combat.Vec3{X: -1}

	pos, dir := e.orderFor(near, combat.LightAttack)
	if pos != (combat.Vec3{}) || !dir.Equal(toward, 1e-9) {
		t.Errorf("attack order = %v %v", pos, dir)
	}
	pos, dir = e.orderFor(near, combat.NoAction)
	if pos != near.Position || !dir.Equal(toward, 1e-9) {
		t.Errorf("hold order = %v %v", pos, dir)
	}
	pos, _ = e.orderFor(far, combat.NoAction)
	if pos != (combat.Vec3{}) {
		t.Errorf("approach order position = %v, want player position", pos)
	}
	for i := 0; i < 8; i++ {
		pos, dir = e.orderFor(near, combat.Roll)
		if pos != near.Position {
			t.Errorf("roll position = %v", pos)
		}
		if math.Abs(dir.Dot(toward)) > 1e-9 || math.Abs(dir.Len()-1) > 1e-9 || dir.Y != 0 {
			t.Errorf("roll direction %v is not a unit ground-plane perpendicular", dir)
		}
	}
}

func TestAnticipationDecay(t *testing.T) {
	var a Anticipation
	a.set(combat.HeavyAttack, 0.5, 1.0, 1.3)

	a.Decay(1.0, 1)
	if a.Confidence != 0.5 {
		t.Errorf("no elapsed time, confidence = %v", a.Confidence)
	}
	a.Decay(1.2, 1)
	if math.Abs(a.Confidence-0.3) > 1e-9 || a.Kind != combat.HeavyAttack {
		t.Errorf("after 0.2s: %+v", a)
	}
	a.Decay(2.0, 1)
	if a.Confidence != 0 || a.Kind != combat.NoAction {
		t.Errorf("after expiry: %+v", a)
	}
}

func TestChooseDefaultsToNoActionWhenNothingScores(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{Time: 1, Characters: duelists()})
	kind, scores := e.choose(e.Character(7))
	best := 0.0
	for _, s := range scores {
		best = math.Max(best, s)
	}
	if best <= 0 && kind != combat.NoAction {
		t.Errorf("no positive score but chose %v", kind)
	}
	if best > 0 && scores[kind] != best {
		t.Errorf("chose %v (%v), best score %v", kind, scores[kind], best)
	}
}

func TestPlayerIsTheCharacterWithPlayerID(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{
		Time: 1,
		Characters: []exchange.Observation{
			obs(3, combat.KindPlayer, combat.Vec3{X: 9}, combat.Vec3{Z: 1}),
			obs(7, combat.KindEnemy, combat.Vec3{Z: 2}, combat.Vec3{Z: -1}),
		},
	})
	if e.player != nil {
		t.Fatal("player-kind id 3 became the player")
	}
	if e.out.Pending() != 0 {
		t.Error("orders issued before the player was seen")
	}

	mustProcess(t, e, &exchange.Snapshot{Time: 1.1, Characters: duelists()})
	if e.player == nil || e.player.ID != combat.PlayerID {
		t.Fatalf("player = %+v, want id %d", e.player, combat.PlayerID)
	}
}

// trainAnticipateEnemy teaches FromEnemy[NoAction] that, in the duelists
// geometry, the player always does kind next.
func trainAnticipateEnemy(e *Engine, kind combat.ActionKind) {
	target := make([]float64, kinds)
	target[kind] = 1
	ac := e.cfg.Anticipation
	steps := int(ac.Horizon/ac.Step + 1e-9)
	n := e.nets.FromEnemy[combat.NoAction]
	for i := 0; i < 400; i++ {
		for s := 1; s <= steps; s++ {
			n.Learn(anticipationInputs(combat.Vec3{}, combat.Vec3{Z: 2}, combat.Vec3{Z: 1}, combat.Vec3{Z: -1}, float64(s)*ac.Step), target)
		}
	}
}

func TestAnticipatePicksTrainedKind(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{Time: 1, Characters: duelists()})
	trainAnticipateEnemy(e, combat.HeavyAttack)

	e.antic = Anticipation{}
	e.anticipate()
	a := e.Anticipation()
	if a.Kind != combat.HeavyAttack {
		t.Fatalf("anticipated %v (%+v), want %v", a.Kind, a, combat.HeavyAttack)
	}
	horizon := e.cfg.Anticipation.Horizon
	if a.PredictedAt <= e.now || a.PredictedAt > e.now+horizon+1e-9 {
		t.Errorf("predicted at %v, want in (%v, %v]", a.PredictedAt, e.now, e.now+horizon)
	}
	if a.Confidence < 0.5 {
		t.Errorf("confidence %v after training", a.Confidence)
	}
}

func TestWeakerVoteKeepsAnticipation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{Time: 1, Characters: duelists()})
	trainAnticipateEnemy(e, combat.HeavyAttack)

	// one enemy votes at most 1 per kind
	e.antic.set(combat.Roll, 5, e.now, e.now+0.3)
	e.anticipate()
	a := e.Anticipation()
	if a.Kind != combat.Roll || a.Confidence != 5 || a.PredictedAt != e.now+0.3 {
		t.Errorf("anticipation replaced by a weaker vote: %+v", a)
	}
}

func TestScoreIsExpectedDamageBalance(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ens := e.Ensemble()
	dist, ca, ta, adv := 3.0, 10.0, -20.0, 0.4

	for _, k := range combat.ActionKinds {
		for _, opp := range []combat.ActionKind{combat.NoAction, combat.HeavyAttack} {
			p := ens.Action[k].Think([]float64{dist, ca, ta}, 0)[0]
			r := ens.Reaction[k][opp].Think([]float64{dist, ca, ta, adv}, 0)
			want := p*r[0] - r[1]
			if got := ens.Score(k, opp, dist, ca, ta, adv, false); math.Abs(got-want) > 1e-12 {
				t.Errorf("Score(%v, %v) = %v, want %v", k, opp, got, want)
			}
		}
	}

	k, opp := combat.LightAttack, combat.NoAction
	for i := 0; i < 2000; i++ {
		ens.Action[k].Learn([]float64{dist, ca, ta}, []float64{1})
		ens.Reaction[k][opp].Learn([]float64{dist, ca, ta, adv}, []float64{2, 0.5})
	}
	if got := ens.Score(k, opp, dist, ca, ta, adv, false); math.Abs(got-1.5) > 0.3 {
		t.Errorf("trained Score = %v, want about 1*2 - 0.5", got)
	}
}

func TestRollSidestepTakesBothDirections(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustProcess(t, e, &exchange.Snapshot{Time: 1, Characters: duelists()})
	c := e.Character(7)
	toward := e.player.Position.Sub(c.Position).Norm()
	left := toward.Scale(-1).Flat().Norm().Perpendicular(1)

	seen := map[float64]int{}
	for i := 0; i < 64; i++ {
		_, dir := e.orderFor(c, combat.Roll)
		seen[math.Copysign(1, dir.Dot(left))]++
	}
	if seen[1] == 0 || seen[-1] == 0 {
		t.Errorf("roll sides = %v, want both", seen)
	}
}
