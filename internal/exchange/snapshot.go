// Package exchange holds the only state shared between the game goroutine
// and the decision goroutine: the snapshot channel (game → decision) and the
// order outbox (decision → game).
package exchange

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"duel_ai/internal/combat"
)

type Observation struct {
	ID        int                  `json:"id"`
	Kind      combat.CharacterKind `json:"kind"`
	Position  combat.Vec3          `json:"position"`
	Direction combat.Vec3          `json:"direction"`
	Velocity  combat.Vec3          `json:"velocity"`
	Visible   bool                 `json:"visible"`
}

// Event is a discrete combat event. Fields not meaningful for a kind keep
// their sentinel defaults (UnknownID, NoAction, 0).
type Event struct {
	Kind     combat.EventKind  `json:"kind"`
	CasterID int               `json:"caster_id"`
	TargetID int               `json:"target_id"`
	Action   combat.ActionKind `json:"action"`
	Damage   float64           `json:"damage,omitempty"`
}

func NewEvent(kind combat.EventKind) Event {
	return Event{Kind: kind, CasterID: combat.UnknownID, TargetID: combat.UnknownID, Action: combat.NoAction}
}

// Snapshot is one sealed batch. It must not be modified after Send.
type Snapshot struct {
	Seq        uint64        `json:"seq"`
	Time       float64       `json:"time"`
	Characters []Observation `json:"characters"`
	Events     []Event       `json:"events"`
}

// ErrClaimed is returned by Claim while another consumer holds the channel.
var ErrClaimed = errors.New("channel already has a consumer")

// Channel hands snapshots from one producer to one consumer in FIFO order.
// The queue is unbounded: a slow consumer accumulates backlog, nothing is
// dropped.
type Channel struct {
	stageMu sync.Mutex
	staging *Snapshot

	mu    sync.Mutex
	ready *sync.Cond
	queue []*Snapshot
	seq   uint64

	claimed atomic.Bool
}

func NewChannel() *Channel {
	c := &Channel{staging: &Snapshot{}}
	c.ready = sync.NewCond(&c.mu)
	return c
}

// PushCharacter stages one character observation for the next Send.
func (c *Channel) PushCharacter(id int, kind combat.CharacterKind, pos, dir, vel combat.Vec3, visible bool) {
	c.stageMu.Lock()
	c.staging.Characters = append(c.staging.Characters, Observation{
		ID: id, Kind: kind, Position: pos, Direction: dir, Velocity: vel, Visible: visible,
	})
	c.stageMu.Unlock()
}

// PushEvent stages one event for the next Send.
func (c *Channel) PushEvent(e Event) {
	c.stageMu.Lock()
	c.staging.Events = append(c.staging.Events, e)
	c.stageMu.Unlock()
}

type EventOption func(*Event)

func Caster(id int) EventOption                  { return func(e *Event) { e.CasterID = id } }
func Target(id int) EventOption                  { return func(e *Event) { e.TargetID = id } }
func WithAction(k combat.ActionKind) EventOption { return func(e *Event) { e.Action = k } }
func WithDamage(d float64) EventOption           { return func(e *Event) { e.Damage = d } }

// PushEventOf stages an event of kind, starting from the defaults and
// applying opts in order.
func (c *Channel) PushEventOf(kind combat.EventKind, opts ...EventOption) {
	e := NewEvent(kind)
	for _, o := range opts {
		o(&e)
	}
	c.PushEvent(e)
}

// Send seals the staged snapshot with the given game time, queues it and
// wakes the consumer. A fresh staging snapshot takes its place.
func (c *Channel) Send(gameTime float64) {
	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	s := c.staging
	c.staging = &Snapshot{}
	s.Time = gameTime

	// stageMu stays held across the enqueue so seal order == queue order
	c.mu.Lock()
	c.seq++
	s.Seq = c.seq
	c.queue = append(c.queue, s)
	c.mu.Unlock()
	c.ready.Signal()
}

// Receive blocks until a snapshot is queued and returns the oldest one.
func (c *Channel) Receive() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 {
		c.ready.Wait()
	}
	return c.popLocked()
}

// ReceiveContext is Receive with cancellation. It returns ctx.Err() when ctx
// is done before a snapshot arrives.
func (c *Channel) ReceiveContext(ctx context.Context) (*Snapshot, error) {
	if ctx.Done() == nil {
		return c.Receive(), nil
	}
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.ready.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.ready.Wait()
	}
	return c.popLocked(), nil
}

func (c *Channel) popLocked() *Snapshot {
	s := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	return s
}

// Claim registers the caller as the channel's single consumer. It fails with
// ErrClaimed until the current holder calls release.
func (c *Channel) Claim() (release func(), err error) {
	if !c.claimed.CompareAndSwap(false, true) {
		return nil, ErrClaimed
	}
	var once sync.Once
	return func() { once.Do(func() { c.claimed.Store(false) }) }, nil
}

func (c *Channel) Claimed() bool { return c.claimed.Load() }

// Len is the number of sealed snapshots waiting for the consumer.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
