package sim

import (
	"encoding/json"

	"duel_ai/internal/combat"
	"duel_ai/internal/config"
)

type Event struct {
	T       float64        `json:"t"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Death struct {
	T    float64 `json:"t"`
	ID   int     `json:"id"`
	Name string  `json:"name"`
	By   string  `json:"by"`
}

type Result struct {
	Winner        string                    `json:"winner"`
	Duration      float64                   `json:"duration"`
	Snapshots     int                       `json:"snapshots"`
	OrdersApplied int                       `json:"orders_applied"`
	OrdersIgnored int                       `json:"orders_ignored"`
	PlayerHP      float64                   `json:"player_hp"`
	Actions       map[string]map[string]int `json:"actions"`
	DamageDealt   map[string]float64        `json:"damage_dealt"`
	DamageTaken   map[string]float64        `json:"damage_taken"`
	Deaths        []Death                   `json:"deaths,omitempty"`
	Meta          Meta                      `json:"meta"`
	Events        []Event                   `json:"events,omitempty"`
}

type Meta struct {
	Seed    int64           `json:"seed"`
	Tick    float64         `json:"tick"`
	Player  CombatantMeta   `json:"player"`
	Enemies []CombatantMeta `json:"enemies"`
}

type CombatantMeta struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	MaxHP float64 `json:"max_hp"`
	Speed float64 `json:"speed"`
	Note  string  `json:"note,omitempty"`
}

func combatantMeta(id int, d config.CombatantDef) CombatantMeta {
	return CombatantMeta{ID: id, Name: d.Name, MaxHP: d.MaxHP, Speed: d.Speed, Note: d.Note}
}

func newResult(cfg *config.Config) Result {
	r := Result{
		Actions:     map[string]map[string]int{},
		DamageDealt: map[string]float64{},
		DamageTaken: map[string]float64{},
		Meta: Meta{
			Seed:   cfg.Arena.Seed,
			Tick:   cfg.Arena.Tick,
			Player: combatantMeta(combat.PlayerID, cfg.Arena.Player),
		},
	}
	for _, en := range cfg.Arena.Enemies {
		r.Meta.Enemies = append(r.Meta.Enemies, combatantMeta(en.ID, en))
	}
	return r
}

func (r *Result) countAction(name string, kind combat.ActionKind) {
	m := r.Actions[name]
	if m == nil {
		m = map[string]int{}
		r.Actions[name] = m
	}
	m[kind.String()]++
}

func MarshalPretty(v any) []byte {
	b, _ := json.MarshalIndent(v, "", "  ")
	return b
}
