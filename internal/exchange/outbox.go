package exchange

import (
	"sync"

	"duel_ai/internal/combat"
)

type Order struct {
	CharacterID int               `json:"character_id"`
	Action      combat.ActionKind `json:"action"`
	Position    combat.Vec3       `json:"position"`
	Direction   combat.Vec3       `json:"direction"`
}

// Outbox keeps at most one pending order per character. A newer order
// replaces an unconsumed one.
type Outbox struct {
	mu     sync.Mutex
	orders map[int]Order
}

func NewOutbox() *Outbox {
	return &Outbox{orders: map[int]Order{}}
}

func (o *Outbox) SetOrder(id int, kind combat.ActionKind, pos, dir combat.Vec3) Order {
	ord := Order{CharacterID: id, Action: kind, Position: pos, Direction: dir}
	o.mu.Lock()
	o.orders[id] = ord
	o.mu.Unlock()
	return ord
}

// TakeOrder returns and clears the pending order of a character.
func (o *Outbox) TakeOrder(id int) (Order, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[id]
	if ok {
		delete(o.orders, id)
	}
	return ord, ok
}

func (o *Outbox) HasOrder(id int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.orders[id]
	return ok
}

func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.orders)
}
