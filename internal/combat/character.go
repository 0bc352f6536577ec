package combat

type Character struct {
	ID   int
	Kind CharacterKind

	Position  Vec3
	Direction Vec3
	Velocity  Vec3
	LastSeen  float64

	Current  *Action
	Previous *Action
	Alive    bool
}

func NewCharacter(id int, kind CharacterKind) *Character {
	return &Character{ID: id, Kind: kind, Alive: true}
}

func (c *Character) IsIdle() bool   { return c.Current == nil }
func (c *Character) IsPlayer() bool { return c.Kind == KindPlayer }

// PositionIn extrapolates linearly from the last observed velocity.
func (c *Character) PositionIn(delay float64) Vec3 {
	return c.Position.Add(c.Velocity.Scale(delay))
}

// ReferenceAction is the current action, or the previous one when idle.
func (c *Character) ReferenceAction() *Action {
	if c.Current != nil {
		return c.Current
	}
	return c.Previous
}

func (c *Character) OnSeen(now float64, pos, dir, vel Vec3) {
	c.Position = pos
	c.Direction = dir
	c.Velocity = vel
	c.LastSeen = now
}

func (c *Character) OnActionStarted(now float64, kind ActionKind, target *Character) *Action {
	c.Current = NewAction(kind, c, target, now)
	return c.Current
}

// OnActionFinished moves the current action into Previous and returns it.
// On an idle character nothing changes and the previous action is returned.
func (c *Character) OnActionFinished(now float64) *Action {
	if c.Current == nil {
		return c.Previous
	}
	c.Current.finish(now)
	c.Previous = c.Current
	c.Current = nil
	return c.Previous
}

func (c *Character) OnDamageDealt(d float64) {
	if c.Current != nil {
		c.Current.AddDamageDealt(d)
	}
}

func (c *Character) OnDamageTaken(d float64) {
	if c.Current != nil {
		c.Current.AddDamageTaken(d)
	}
}

func (c *Character) OnDeath() { c.Alive = false }

// Targets reports whether the character's current action is aimed at other.
func (c *Character) Targets(other *Character) bool {
	return c.Current != nil && c.Current.Target == other
}
