package config

// ArenaConfig drives the game-side harness: one scripted player and a set
// of AI-controlled enemies.
type ArenaConfig struct {
	Duration float64         `yaml:"duration"`
	Tick     float64         `yaml:"tick"`
	Seed     int64           `yaml:"seed"`
	Player   CombatantDef    `yaml:"player"`
	Enemies  []CombatantDef  `yaml:"enemies"`
	Script   PlayerScriptDef `yaml:"script"`
}

type CombatantDef struct {
	ID    int     `yaml:"id"`
	Name  string  `yaml:"name"`
	MaxHP float64 `yaml:"max_hp"`
	Speed float64 `yaml:"speed"`
	Spawn Vec3Def `yaml:"spawn"`
	Note  string  `yaml:"note"`
}

type Vec3Def struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// PlayerScriptDef weights the scripted player's choices once in range.
type PlayerScriptDef struct {
	AttackCD    float64 `yaml:"attack_cd"`
	HeavyChance float64 `yaml:"heavy_chance"`
	GuardChance float64 `yaml:"guard_chance"`
	RollChance  float64 `yaml:"roll_chance"`
}
