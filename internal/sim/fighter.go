package sim

import (
	"math"

	"duel_ai/internal/combat"
	"duel_ai/internal/config"
)

type stage int

const (
	stageWindup stage = iota
	stageActive
	stageRecover
)

func (s stage) String() string {
	switch s {
	case stageWindup:
		return "windup"
	case stageActive:
		return "active"
	default:
		return "recover"
	}
}

// performing is an action in flight: windup -> active -> recover.
type performing struct {
	Kind     combat.ActionKind
	Spec     config.ActionSpec
	Stage    stage
	StageEnd float64
	Started  float64
	Dir      combat.Vec3 // facing (or dash direction) frozen at start

	seen bool // the scripted player already answered it
}

type fighter struct {
	ID    int
	Name  string
	Kind  combat.CharacterKind
	HP    float64
	MaxHP float64
	Speed float64

	Pos combat.Vec3
	Dir combat.Vec3 // 朝向
	Vel combat.Vec3

	Act     *performing
	Goal    combat.Vec3
	HasGoal bool

	nextAttack float64
}

func newFighter(id int, kind combat.CharacterKind, def config.CombatantDef, facing combat.Vec3) *fighter {
	return &fighter{
		ID:    id,
		Name:  def.Name,
		Kind:  kind,
		HP:    def.MaxHP,
		MaxHP: def.MaxHP,
		Speed: def.Speed,
		Pos:   combat.Vec3{X: def.Spawn.X, Y: def.Spawn.Y, Z: def.Spawn.Z},
		Dir:   facing,
	}
}

func (f *fighter) Alive() bool { return f.HP > 0 }
func (f *fighter) Idle() bool  { return f.Act == nil }

// in reports whether f is in the given stage of an action of one of kinds.
func (f *fighter) in(st stage, kinds ...combat.ActionKind) bool {
	if f.Act == nil || f.Act.Stage != st {
		return false
	}
	for _, k := range kinds {
		if f.Act.Kind == k {
			return true
		}
	}
	return false
}

func (f *fighter) start(now float64, kind combat.ActionKind, spec config.ActionSpec, dir combat.Vec3) {
	if !dir.IsZero() {
		f.Dir = dir.Norm()
	}
	f.HasGoal = false
	f.Act = &performing{
		Kind:     kind,
		Spec:     spec,
		Stage:    stageWindup,
		StageEnd: now + spec.Windup,
		Started:  now,
		Dir:      f.Dir,
	}
}

// faces reports whether other lies within arc degrees of f's facing.
func (f *fighter) faces(other *fighter, arc float64) bool {
	return f.Dir.AngleTo(other.Pos.Sub(f.Pos)) <= arc
}

// stepToward moves f toward goal, stopping at stopAt from it. It returns the
// distance actually travelled.
func (f *fighter) stepToward(goal combat.Vec3, stopAt, dt float64) float64 {
	diff := goal.Sub(f.Pos).Flat()
	d := diff.Len()
	if d <= stopAt {
		return 0
	}
	step := math.Min(f.Speed*dt, d-stopAt)
	if step <= 0 {
		return 0
	}
	dir := diff.Norm()
	f.Pos = f.Pos.Add(dir.Scale(step))
	f.Dir = dir
	return step
}
