package config

// ActionSpec describes how the arena plays out one action kind: the three
// stage durations and the hit that lands when the active stage begins.
type ActionSpec struct {
	Kind    string  `yaml:"kind"`
	Windup  float64 `yaml:"windup"`
	Active  float64 `yaml:"active"`
	Recover float64 `yaml:"recover"`
	Damage  float64 `yaml:"damage"`
	Range   float64 `yaml:"range"`
	Arc     float64 `yaml:"arc"` // degrees either side of facing
	// GuardReduction is the fraction of incoming damage absorbed while this
	// action is active (Guard only).
	GuardReduction float64 `yaml:"guard_reduction"`
	// Dash is the distance covered during the active stage (Roll only).
	Dash float64 `yaml:"dash"`
	Note string  `yaml:"note"`
}

func (a ActionSpec) Total() float64 { return a.Windup + a.Active + a.Recover }

func defaultActions() []ActionSpec {
	return []ActionSpec{
		{Kind: "Roll", Windup: 0.05, Active: 0.35, Recover: 0.2, Dash: 3.0, Note: "invulnerable while active"},
		{Kind: "LightAttack", Windup: 0.2, Active: 0.1, Recover: 0.3, Damage: 1.0, Range: 2.5, Arc: 60},
		{Kind: "HeavyAttack", Windup: 0.6, Active: 0.15, Recover: 0.5, Damage: 2.5, Range: 3.0, Arc: 75},
		{Kind: "Guard", Windup: 0.05, Active: 0.8, Recover: 0.15, GuardReduction: 0.8},
	}
}
