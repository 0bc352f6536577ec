// Package brain is the decision side of a duel: it consumes snapshots,
// keeps the character model current, trains the network ensemble from what
// happened and publishes one order per idle AI character.
package brain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"duel_ai/internal/combat"
	"duel_ai/internal/config"
	"duel_ai/internal/exchange"
	"duel_ai/internal/logger"
	"duel_ai/internal/util"
)

var (
	// ErrUnknownCharacter means an event referenced an id that no snapshot
	// has introduced. It ends the loop without saving.
	ErrUnknownCharacter = errors.New("unknown character")
	ErrInvalidAction    = errors.New("invalid action kind")
	ErrAlreadyRunning   = errors.New("decision loop already running")
)

type SavedNetwork struct {
	Name    string
	Family  string
	Inputs  int
	Outputs int
	Samples int
	Path    string
}

type RunSummary struct {
	StartedAt time.Time
	EndedAt   time.Time
	Snapshots int
	Orders    int
}

// Recorder is told about every saved network and every finished run.
type Recorder interface {
	Record(SavedNetwork) error
	RecordRun(RunSummary) error
}

// Frame is what the engine decided for one snapshot.
type Frame struct {
	Seq          uint64           `json:"seq"`
	Time         float64          `json:"time"`
	Anticipation Anticipation     `json:"anticipation"`
	Orders       []exchange.Order `json:"orders,omitempty"`
}

// Telemetry receives one frame per processed snapshot. Publish is called
// on the decision goroutine and must not block.
type Telemetry interface {
	Publish(Frame)
}

type Option func(*Engine)

func WithRand(r *rand.Rand) Option     { return func(e *Engine) { e.rng = r } }
func WithRecorder(r Recorder) Option   { return func(e *Engine) { e.recorder = r } }
func WithTelemetry(t Telemetry) Option { return func(e *Engine) { e.telemetry = t } }

type Engine struct {
	cfg  config.EngineConfig
	in   *exchange.Channel
	out  *exchange.Outbox
	rng  *rand.Rand
	nets *Ensemble

	chars  map[int]*combat.Character
	roster []*combat.Character // creation order
	player *combat.Character
	now    float64
	antic  Anticipation

	recorder  Recorder
	telemetry Telemetry

	snapshots int
	orders    int
}

// New builds an engine reading from in and writing to out. Networks are
// restored from cfg.NetworkDir when files exist there.
func New(cfg config.EngineConfig, in *exchange.Channel, out *exchange.Outbox, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		in:    in,
		out:   out,
		chars: map[int]*combat.Character{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		e.rng = util.New(cfg.Seed)
	}
	nets, err := OpenEnsemble(cfg.NetworkDir, cfg.Bounds, cfg.LearningRate, util.Derive(e.rng))
	if err != nil {
		return nil, fmt.Errorf("open networks: %w", err)
	}
	e.nets = nets
	return e, nil
}

func (e *Engine) Ensemble() *Ensemble                { return e.nets }
func (e *Engine) Anticipation() Anticipation         { return e.antic }
func (e *Engine) Now() float64                       { return e.now }
func (e *Engine) Character(id int) *combat.Character { return e.chars[id] }

// Handle joins a running decision loop.
type Handle struct {
	done chan struct{}
	err  error
}

func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Start runs the loop on its own goroutine.
func (e *Engine) Start(ctx context.Context) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = e.Run(ctx)
	}()
	return h
}

// Run consumes snapshots until one carries GameEnd, then saves every
// trained network. Only one Run may consume a channel at a time, whichever
// engine it belongs to. A cancelled ctx stops the loop without saving.
func (e *Engine) Run(ctx context.Context) error {
	release, err := e.in.Claim()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	}
	defer release()

	started := time.Now()
	logger.Log.Info("Decision loop started")
	for {
		s, err := e.in.ReceiveContext(ctx)
		if err != nil {
			logger.Log.WithError(err).Warn("Decision loop cancelled")
			return err
		}
		done, err := e.Process(s)
		if err != nil {
			logger.Log.WithError(err).WithField("seq", s.Seq).Error("Decision loop aborted")
			return err
		}
		if done {
			break
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"snapshots": e.snapshots,
		"orders":    e.orders,
	}).Info("Decision loop terminating")
	e.persist(started)
	return nil
}

func (e *Engine) persist(started time.Time) {
	saved := e.nets.Save(e.cfg.NetworkDir)
	logger.Log.WithFields(logrus.Fields{
		"dir":   e.cfg.NetworkDir,
		"saved": len(saved),
	}).Info("Network state saved")
	if e.recorder == nil {
		return
	}
	for _, s := range saved {
		if err := e.recorder.Record(s); err != nil {
			logger.Log.WithError(err).WithField("network", s.Name).Warn("Indexing network")
		}
	}
	err := e.recorder.RecordRun(RunSummary{
		StartedAt: started,
		EndedAt:   time.Now(),
		Snapshots: e.snapshots,
		Orders:    e.orders,
	})
	if err != nil {
		logger.Log.WithError(err).Warn("Indexing run")
	}
}

// Process applies one snapshot and reports whether it ended the game.
// It is the body of Run and must only be called from a single goroutine.
func (e *Engine) Process(s *exchange.Snapshot) (bool, error) {
	e.now = s.Time
	e.snapshots++

	e.ingestCharacters(s.Characters)
	done, err := e.ingestEvents(s.Events)
	if err != nil {
		return false, err
	}

	var issued []exchange.Order
	// nothing to decide against until the player has been seen
	if e.player != nil {
		e.anticipate()
		issued = e.act()
	}
	if e.telemetry != nil {
		e.telemetry.Publish(Frame{Seq: s.Seq, Time: s.Time, Anticipation: e.antic, Orders: issued})
	}
	return done, nil
}

func (e *Engine) ingestCharacters(obs []exchange.Observation) {
	for _, o := range obs {
		c, ok := e.chars[o.ID]
		if !ok {
			c = combat.NewCharacter(o.ID, o.Kind)
			e.chars[o.ID] = c
			e.roster = append(e.roster, c)
			switch {
			case o.ID == combat.PlayerID:
				e.player = c
			case c.IsPlayer():
				logger.Log.WithField("character", o.ID).Warn("Player-kind character without the player id")
			}
			logger.Log.WithFields(logrus.Fields{
				"character": o.ID,
				"kind":      o.Kind,
			}).Debug("Adding new character")
		}
		if o.Visible {
			c.OnSeen(e.now, o.Position, o.Direction, o.Velocity)
		}
	}
}

// ingestEvents applies events kind by kind in EventKind order, keeping
// arrival order within a kind.
func (e *Engine) ingestEvents(events []exchange.Event) (bool, error) {
	done := false
	for kind := combat.EventKind(0); kind < combat.EventKindCount; kind++ {
		for _, ev := range events {
			if ev.Kind != kind {
				continue
			}
			var err error
			switch kind {
			case combat.EventGameEnd:
				done = true
			case combat.EventDamageDealt:
				err = e.onDamageDealt(ev)
			case combat.EventCharacterDeath:
				err = e.onDeath(ev)
			case combat.EventActionFinished:
				err = e.onActionFinished(ev)
			case combat.EventActionStarted:
				err = e.onActionStarted(ev)
			}
			if err != nil {
				return false, fmt.Errorf("%s event: %w", kind, err)
			}
		}
	}
	return done, nil
}

func (e *Engine) lookup(id int) (*combat.Character, error) {
	c, ok := e.chars[id]
	if !ok {
		return nil, fmt.Errorf("id %d: %w", id, ErrUnknownCharacter)
	}
	return c, nil
}

func (e *Engine) onActionStarted(ev exchange.Event) error {
	caster, err := e.lookup(ev.CasterID)
	if err != nil {
		return err
	}
	if !ev.Action.Valid() {
		return fmt.Errorf("%d: %w", int(ev.Action), ErrInvalidAction)
	}

	var target *combat.Character
	if caster.IsPlayer() {
		target = e.resolvePlayerTarget(caster)
	} else {
		if e.player == nil {
			return fmt.Errorf("player: %w", ErrUnknownCharacter)
		}
		target = e.player
	}

	a := caster.OnActionStarted(e.now, ev.Action, target)
	for _, c := range e.roster {
		if c != caster && c.Targets(caster) {
			c.Current.OnTargetActionStarted(a)
		}
	}
	logger.Log.WithFields(logrus.Fields{
		"caster": caster.ID,
		"action": ev.Action,
	}).Debug("Action started")

	if caster.IsPlayer() {
		e.trainAnticipation(ev.Action)
	}
	return nil
}

// resolvePlayerTarget picks the living character, other than the player,
// minimising distance plus facing angle.
func (e *Engine) resolvePlayerTarget(p *combat.Character) *combat.Character {
	var best *combat.Character
	bestScore := 0.0
	for _, c := range e.roster {
		if c == p || !c.Alive {
			continue
		}
		s := c.Position.Dist(p.Position) + p.Direction.AngleTo(c.Position.Sub(p.Position))
		if best == nil || s < bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func (e *Engine) onActionFinished(ev exchange.Event) error {
	caster, err := e.lookup(ev.CasterID)
	if err != nil {
		return err
	}
	if caster.IsIdle() {
		logger.Log.WithField("caster", caster.ID).Warn("Action finished on idle character, ignored")
		return nil
	}
	e.trainAction(caster.OnActionFinished(e.now))
	return nil
}

func (e *Engine) onDamageDealt(ev exchange.Event) error {
	caster, err := e.lookup(ev.CasterID)
	if err != nil {
		return err
	}
	target, err := e.lookup(ev.TargetID)
	if err != nil {
		return err
	}
	caster.OnDamageDealt(ev.Damage)
	target.OnDamageTaken(ev.Damage)
	logger.Log.WithFields(logrus.Fields{
		"caster": caster.ID,
		"target": target.ID,
		"damage": ev.Damage,
	}).Debug("Damage dealt")
	return nil
}

func (e *Engine) onDeath(ev exchange.Event) error {
	if ev.CasterID != combat.UnknownID {
		if _, err := e.lookup(ev.CasterID); err != nil {
			return err
		}
	}
	target, err := e.lookup(ev.TargetID)
	if err != nil {
		return err
	}
	target.OnDeath()
	logger.Log.WithField("character", target.ID).Info("Character died")
	return nil
}
