// Package sim is the game side of a duel: a fixed-tick arena that samples
// its fighters into snapshots, plays out the orders it drains from the
// outbox and scripts the player.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"duel_ai/internal/combat"
	"duel_ai/internal/config"
	"duel_ai/internal/exchange"
	"duel_ai/internal/logger"
	"duel_ai/internal/util"
)

// Waiter is the decision loop the arena hands over to at game end.
type Waiter interface {
	Wait() error
}

type Options struct {
	// Pace is the wall time per tick; zero runs as fast as possible.
	Pace time.Duration
	// Record keeps the full event log in the result.
	Record bool
}

type Arena struct {
	cfg  *config.Config
	ch   *exchange.Channel
	out  *exchange.Outbox
	rng  *rand.Rand
	opts Options

	specs   map[combat.ActionKind]config.ActionSpec
	player  *fighter
	enemies []*fighter
	all     []*fighter
	now     float64

	res    Result
	events []Event
}

func New(cfg *config.Config, ch *exchange.Channel, out *exchange.Outbox, opts Options) (*Arena, error) {
	specs := map[combat.ActionKind]config.ActionSpec{}
	for _, s := range cfg.Actions {
		k, err := combat.ParseActionKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("action spec: %w", err)
		}
		specs[k] = s
	}
	for _, k := range []combat.ActionKind{combat.Roll, combat.LightAttack, combat.HeavyAttack, combat.Guard} {
		if _, ok := specs[k]; !ok {
			return nil, fmt.Errorf("no action spec for %s", k)
		}
	}

	a := &Arena{
		cfg:   cfg,
		ch:    ch,
		out:   out,
		rng:   util.New(cfg.Arena.Seed),
		opts:  opts,
		specs: specs,
	}
	a.res = newResult(cfg)
	a.spawn()
	return a, nil
}

func (a *Arena) spawn() {
	ac := a.cfg.Arena
	a.player = newFighter(combat.PlayerID, combat.KindPlayer, ac.Player, combat.Vec3{Z: 1})
	a.all = append(a.all, a.player)
	for _, def := range ac.Enemies {
		en := newFighter(def.ID, combat.KindEnemy, def, combat.Vec3{})
		en.Dir = a.player.Pos.Sub(en.Pos).Flat().Norm()
		a.enemies = append(a.enemies, en)
		a.all = append(a.all, en)
	}
	if len(a.enemies) > 0 {
		if d := a.enemies[0].Pos.Sub(a.player.Pos).Flat().Norm(); !d.IsZero() {
			a.player.Dir = d
		}
	}
	for _, f := range a.all {
		a.emit(Event{T: 0, Type: "Spawn", Payload: map[string]any{
			"id": f.ID, "name": f.Name, "kind": f.Kind.String(),
			"pos": f.Pos.Slice(), "hp": f.HP, "max_hp": f.MaxHP,
		}})
	}
}

// Run plays the game until one side is down, the configured duration is
// over or ctx is done. It then sends GameEnd and waits for the decision loop
// to save and exit.
func (a *Arena) Run(ctx context.Context, engine Waiter) (*Result, error) {
	tick := a.cfg.Arena.Tick
	frames := int(math.Round(a.cfg.Arena.Duration / tick))

	var pace <-chan time.Time
	if a.opts.Pace > 0 {
		t := time.NewTicker(a.opts.Pace)
		defer t.Stop()
		pace = t.C
	}

	logger.Log.WithFields(logrus.Fields{
		"enemies":  len(a.enemies),
		"duration": a.cfg.Arena.Duration,
		"tick":     tick,
	}).Info("Arena started")

	cancelled := false
loop:
	for frame := 0; frame <= frames; frame++ {
		a.now = float64(frame) * tick
		if frame > 0 {
			a.applyOrders()
			a.scriptPlayer()
			a.advance()
			a.move(tick)
		}
		a.push()
		a.ch.Send(a.now)
		a.res.Snapshots++

		if a.over() {
			break
		}
		if pace != nil {
			select {
			case <-ctx.Done():
				cancelled = true
				break loop
			case <-pace:
			}
		} else if ctx.Err() != nil {
			cancelled = true
			break loop
		}
	}

	a.ch.PushEventOf(combat.EventGameEnd)
	a.ch.Send(a.now)
	a.res.Snapshots++
	a.emit(Event{T: a.now, Type: "GameEnd"})

	a.finish(cancelled)
	logger.Log.WithFields(logrus.Fields{
		"winner":   a.res.Winner,
		"duration": a.res.Duration,
		"orders":   a.res.OrdersApplied,
	}).Info("Arena finished, waiting for decision loop")

	if engine != nil {
		if err := engine.Wait(); err != nil {
			return &a.res, fmt.Errorf("decision loop: %w", err)
		}
	}
	return &a.res, nil
}

func (a *Arena) over() bool {
	if !a.player.Alive() {
		return true
	}
	for _, en := range a.enemies {
		if en.Alive() {
			return false
		}
	}
	return true
}

func (a *Arena) push() {
	for _, f := range a.all {
		a.ch.PushCharacter(f.ID, f.Kind, f.Pos, f.Dir, f.Vel, true)
	}
}

// ---- Orders ----

func (a *Arena) applyOrders() {
	for _, en := range a.enemies {
		ord, ok := a.out.TakeOrder(en.ID)
		if !ok {
			continue
		}
		// the decision side saw an older frame; a busy or dead fighter ignores it
		if !en.Alive() || !en.Idle() {
			a.res.OrdersIgnored++
			continue
		}
		a.res.OrdersApplied++
		if ord.Action == combat.NoAction {
			en.HasGoal = !ord.Position.Equal(en.Pos, 1e-6)
			en.Goal = ord.Position
			if !ord.Direction.IsZero() {
				en.Dir = ord.Direction.Norm()
			}
			continue
		}
		a.startAction(en, ord.Action, ord.Direction)
	}
}

func (a *Arena) startAction(f *fighter, kind combat.ActionKind, dir combat.Vec3) {
	f.start(a.now, kind, a.specs[kind], dir)
	a.ch.PushEventOf(combat.EventActionStarted, exchange.Caster(f.ID), exchange.WithAction(kind))
	a.res.countAction(f.Name, kind)
	a.emit(Event{T: a.now, Type: "Cast", Payload: map[string]any{
		"caster": f.ID, "action": kind.String(), "pos": f.Pos.Slice(), "dir": f.Dir.Slice(),
	}})
	a.logLine(f, "%s starts %s", f.Name, kind)
}

// ---- Stages & hits ----

func (a *Arena) advance() {
	for _, f := range a.all {
		for f.Alive() && f.Act != nil && a.now >= f.Act.StageEnd {
			act := f.Act
			switch act.Stage {
			case stageWindup:
				act.Stage, act.StageEnd = stageActive, act.StageEnd+act.Spec.Active
				if act.Spec.Damage > 0 {
					a.resolveHit(f)
				}
			case stageActive:
				act.Stage, act.StageEnd = stageRecover, act.StageEnd+act.Spec.Recover
			case stageRecover:
				a.finishAction(f)
			}
		}
	}
}

func (a *Arena) finishAction(f *fighter) {
	kind := f.Act.Kind
	f.Act = nil
	a.ch.PushEventOf(combat.EventActionFinished, exchange.Caster(f.ID), exchange.WithAction(kind))
	a.emit(Event{T: a.now, Type: "Finish", Payload: map[string]any{"caster": f.ID, "action": kind.String()}})
}

func (a *Arena) opponents(f *fighter) []*fighter {
	if f.Kind == combat.KindPlayer {
		return a.enemies
	}
	return []*fighter{a.player}
}

// resolveHit lands the attacker's swing on every opponent in range and arc
// when its active stage begins.
func (a *Arena) resolveHit(att *fighter) {
	spec := att.Act.Spec
	for _, def := range a.opponents(att) {
		if !def.Alive() || att.Pos.Dist(def.Pos) > spec.Range || !att.faces(def, spec.Arc) {
			continue
		}
		if def.in(stageActive, combat.Roll) {
			a.logLine(def, "%s rolls through %s's %s", def.Name, att.Name, att.Act.Kind)
			continue
		}
		dmg := spec.Damage
		if def.in(stageActive, combat.Guard) && def.faces(att, 90) {
			dmg *= 1 - def.Act.Spec.GuardReduction
		}
		if dmg <= 0 {
			continue
		}
		a.damage(att, def, dmg)
	}
}

func (a *Arena) damage(att, def *fighter, dmg float64) {
	def.HP -= dmg
	if def.HP < 0 {
		def.HP = 0
	}
	a.ch.PushEventOf(combat.EventDamageDealt, exchange.Caster(att.ID), exchange.Target(def.ID), exchange.WithDamage(dmg))
	a.res.DamageDealt[att.Name] += dmg
	a.res.DamageTaken[def.Name] += dmg
	a.emit(Event{T: a.now, Type: "Hit", Payload: map[string]any{
		"caster": att.ID, "target": def.ID, "dmg": dmg, "hp": def.HP,
	}})
	a.logLine(att, "%s hits %s for %.1f (HP %.1f)", att.Name, def.Name, dmg, def.HP)

	if def.Alive() {
		return
	}
	if def.Act != nil {
		a.finishAction(def)
	}
	def.HasGoal = false
	def.Vel = combat.Vec3{}
	a.ch.PushEventOf(combat.EventCharacterDeath, exchange.Caster(att.ID), exchange.Target(def.ID))
	a.res.Deaths = append(a.res.Deaths, Death{T: a.now, ID: def.ID, Name: def.Name, By: att.Name})
	a.emit(Event{T: a.now, Type: "Death", Payload: map[string]any{"id": def.ID, "by": att.ID}})
	logger.Log.WithFields(logrus.Fields{
		"character": def.ID,
		"by":        att.ID,
		"t":         a.now,
	}).Info("Fighter down")
}

// ---- Movement ----

func (a *Arena) move(dt float64) {
	reach := 0.8 * a.specs[combat.LightAttack].Range
	for _, f := range a.all {
		prev := f.Pos
		switch {
		case !f.Alive():
		case f.in(stageActive, combat.Roll):
			if act := f.Act; act.Spec.Active > 0 {
				f.Pos = f.Pos.Add(act.Dir.Flat().Norm().Scale(act.Spec.Dash / act.Spec.Active * dt))
			}
		case f.Idle() && f.HasGoal:
			f.stepToward(f.Goal, reach, dt)
			if f.Pos.Flat().Dist(f.Goal.Flat()) <= reach+1e-9 {
				f.HasGoal = false
			}
		}
		f.Vel = f.Pos.Sub(prev).Scale(1 / dt)
	}
}

// ---- Helpers ----

func (a *Arena) emit(ev Event) {
	if a.opts.Record {
		a.events = append(a.events, ev)
	}
}

func (a *Arena) logLine(f *fighter, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	fields := logrus.Fields{"t": a.now}
	if f.Act != nil {
		fields["stage"] = f.Act.Stage.String()
	}
	logger.Log.WithFields(fields).Debug(text)
	if !a.opts.Record {
		return
	}
	source := "enemy"
	if f.Kind == combat.KindPlayer {
		source = "player"
	}
	payload := map[string]any{"text": text, "source": source, "id": f.ID}
	if st, ok := fields["stage"]; ok {
		payload["stage"] = st
	}
	a.emit(Event{T: a.now, Type: "LogLine", Payload: payload})
}

func (a *Arena) finish(cancelled bool) {
	a.res.Duration = a.now
	switch {
	case !a.player.Alive():
		a.res.Winner = "enemies"
	case a.over():
		a.res.Winner = "player"
	case cancelled:
		a.res.Winner = "cancelled"
	default:
		a.res.Winner = "timeout"
	}
	a.res.PlayerHP = a.player.HP
	if a.opts.Record {
		a.res.Events = a.events
	}
}
