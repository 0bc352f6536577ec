package combat

// Action records one combat action from start to finish. Geometry and the
// target's competing action are frozen when the action starts; only the
// damage accumulators and the success flag change afterwards.
type Action struct {
	Kind   ActionKind
	Caster *Character
	Target *Character // nil when nobody was targeted

	StartTime          float64
	FinishTime         float64
	CastDistance       float64
	CastAngleForCaster float64 // caster facing vs. direction to target
	CastAngleForTarget float64 // target facing vs. direction to caster

	TargetActionKind      ActionKind
	TargetActionAdvantage float64

	DamageDealt float64
	DamageTaken float64
	Success     bool
	Finished    bool
}

// NewAction builds an action and freezes its geometry from the current
// position and direction of caster and target.
func NewAction(kind ActionKind, caster, target *Character, now float64) *Action {
	a := &Action{Kind: kind, Caster: caster, Target: target, StartTime: now}
	if target == nil || caster == nil {
		return a
	}
	a.CastDistance = caster.Position.Dist(target.Position)
	a.CastAngleForCaster = caster.Direction.AngleTo(target.Position.Sub(caster.Position))
	a.CastAngleForTarget = target.Direction.AngleTo(caster.Position.Sub(target.Position))
	if cur := target.Current; cur != nil {
		a.TargetActionKind = cur.Kind
		a.TargetActionAdvantage = now - cur.StartTime
	}
	return a
}

// OnTargetActionStarted latches the first competing action started by this
// action's target. Later calls are ignored once a kind other than NoAction
// has been recorded.
func (a *Action) OnTargetActionStarted(other *Action) {
	if other == nil || a.Target == nil || other.Caster != a.Target {
		return
	}
	if a.TargetActionKind != NoAction {
		return
	}
	a.TargetActionKind = other.Kind
	a.TargetActionAdvantage = a.StartTime - other.StartTime
	if other.Kind.IsDefensive() {
		a.Success = true
	}
}

func (a *Action) AddDamageDealt(d float64) {
	a.DamageDealt += d
	a.Success = true
}

func (a *Action) AddDamageTaken(d float64) { a.DamageTaken += d }

func (a *Action) finish(now float64) {
	a.FinishTime = now
	a.Finished = true
}

func (a *Action) Duration() float64 {
	if !a.Finished {
		return 0
	}
	return a.FinishTime - a.StartTime
}
