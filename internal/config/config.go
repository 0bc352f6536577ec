package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Engine  EngineConfig `yaml:"engine"`
	Log     LogConfig    `yaml:"log"`
	Arena   ArenaConfig  `yaml:"arena"`
	Actions []ActionSpec `yaml:"actions"`
}

type EngineConfig struct {
	NetworkDir       string             `yaml:"network_dir"`
	IndexDB          string             `yaml:"index_db"`
	LearningRate     float64            `yaml:"learning_rate"`
	EngagementRadius float64            `yaml:"engagement_radius"`
	Seed             int64              `yaml:"seed"`
	Anticipation     AnticipationConfig `yaml:"anticipation"`
	Bounds           BoundsConfig       `yaml:"bounds"`
}

type AnticipationConfig struct {
	Step           float64 `yaml:"step"`
	Horizon        float64 `yaml:"horizon"`
	DecayPerSecond float64 `yaml:"decay_per_second"`
}

// Range is a [lo, hi] pair used to scale network inputs and outputs.
type Range [2]float64

func (r Range) Width() float64 { return r[1] - r[0] }

type BoundsConfig struct {
	Distance    Range `yaml:"distance"`
	Angle       Range `yaml:"angle"`
	Time        Range `yaml:"time"`
	Damage      Range `yaml:"damage"`
	Probability Range `yaml:"probability"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.NetworkDir == "" {
		e.NetworkDir = "ai_network"
	}
	if e.LearningRate == 0 {
		e.LearningRate = 0.5
	}
	if e.EngagementRadius == 0 {
		e.EngagementRadius = 100
	}
	if e.Anticipation.Step == 0 {
		e.Anticipation.Step = 0.1
	}
	if e.Anticipation.Horizon == 0 {
		e.Anticipation.Horizon = 1.0
	}
	if e.Anticipation.DecayPerSecond == 0 {
		e.Anticipation.DecayPerSecond = 1.0
	}
	b := &e.Bounds
	if b.Distance == (Range{}) {
		b.Distance = Range{0, 10000}
	}
	if b.Angle == (Range{}) {
		b.Angle = Range{-180, 180}
	}
	if b.Time == (Range{}) {
		b.Time = Range{-3, 3}
	}
	if b.Damage == (Range{}) {
		b.Damage = Range{-3, 3}
	}
	if b.Probability == (Range{}) {
		b.Probability = Range{0, 1}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	a := &cfg.Arena
	if a.Duration == 0 {
		a.Duration = 60
	}
	if a.Tick == 0 {
		a.Tick = 0.1
	}
	if a.Player.MaxHP == 0 {
		a.Player.MaxHP = 30
	}
	if a.Player.Speed == 0 {
		a.Player.Speed = 4
	}
	if a.Player.Name == "" {
		a.Player.Name = "player"
	}
	if len(a.Enemies) == 0 {
		a.Enemies = []CombatantDef{{ID: 1, Name: "grunt", Spawn: Vec3Def{X: 6}}}
	}
	for i := range a.Enemies {
		en := &a.Enemies[i]
		if en.MaxHP == 0 {
			en.MaxHP = 10
		}
		if en.Speed == 0 {
			en.Speed = 3.5
		}
		if en.Name == "" {
			en.Name = fmt.Sprintf("enemy%d", en.ID)
		}
	}
	s := &a.Script
	if s.AttackCD == 0 {
		s.AttackCD = 0.8
	}
	if s.HeavyChance == 0 {
		s.HeavyChance = 0.25
	}
	if s.GuardChance == 0 {
		s.GuardChance = 0.15
	}
	if s.RollChance == 0 {
		s.RollChance = 0.1
	}

	have := map[string]bool{}
	for _, ac := range cfg.Actions {
		have[strings.ToLower(ac.Kind)] = true
	}
	for _, def := range defaultActions() {
		if !have[strings.ToLower(def.Kind)] {
			cfg.Actions = append(cfg.Actions, def)
		}
	}
}

func validate(cfg *Config) error {
	b := cfg.Engine.Bounds
	for name, r := range map[string]Range{
		"distance": b.Distance, "angle": b.Angle, "time": b.Time,
		"damage": b.Damage, "probability": b.Probability,
	} {
		if r.Width() == 0 {
			return fmt.Errorf("engine.bounds.%s has zero width", name)
		}
	}
	if cfg.Engine.Anticipation.Step <= 0 || cfg.Engine.Anticipation.Horizon < cfg.Engine.Anticipation.Step {
		return fmt.Errorf("engine.anticipation: step must be > 0 and <= horizon")
	}
	if cfg.Arena.Tick <= 0 {
		return fmt.Errorf("arena.tick must be > 0")
	}

	seen := map[int]bool{}
	for i, en := range cfg.Arena.Enemies {
		if en.ID < 0 {
			return fmt.Errorf("arena.enemies[%d]: id %d is reserved", i, en.ID)
		}
		if seen[en.ID] {
			return fmt.Errorf("arena.enemies[%d]: duplicate id %d", i, en.ID)
		}
		seen[en.ID] = true
	}

	kinds := map[string]bool{}
	for i, ac := range cfg.Actions {
		k := strings.ToLower(ac.Kind)
		if kinds[k] {
			return fmt.Errorf("actions[%d]: duplicate kind %s", i, ac.Kind)
		}
		kinds[k] = true
	}
	return nil
}

// Action returns the spec for kind (case-insensitive).
func (c *Config) Action(kind string) (ActionSpec, bool) {
	for _, ac := range c.Actions {
		if strings.EqualFold(ac.Kind, kind) {
			return ac, true
		}
	}
	return ActionSpec{}, false
}
