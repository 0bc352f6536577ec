package brain

import (
	"github.com/sirupsen/logrus"

	"duel_ai/internal/combat"
	"duel_ai/internal/logger"
)

// Anticipation is the single rolling guess of the player's next action.
type Anticipation struct {
	Kind        combat.ActionKind `json:"kind"`
	Confidence  float64           `json:"confidence"`
	PredictedAt float64           `json:"predicted_at"` // absolute game time
	decayedAt   float64
}

// Decay lowers confidence linearly with the game time elapsed since the
// last decay. At zero the guess resets to NoAction.
func (a *Anticipation) Decay(now, perSecond float64) {
	if now <= a.decayedAt {
		return
	}
	a.Confidence -= (now - a.decayedAt) * perSecond
	a.decayedAt = now
	if a.Confidence <= 0 {
		a.Confidence = 0
		a.Kind = combat.NoAction
	}
}

func (a *Anticipation) set(kind combat.ActionKind, confidence, now, at float64) {
	a.Kind = kind
	a.Confidence = confidence
	a.PredictedAt = at
	a.decayedAt = now
}

// anticipationInputs is (distance, angle from the player's facing to the
// enemy, angle from the enemy's facing to the player, elapsed).
func anticipationInputs(player, enemy combat.Vec3, playerDir, enemyDir combat.Vec3, elapsed float64) []float64 {
	return []float64{
		enemy.Dist(player),
		playerDir.AngleTo(enemy.Sub(player)),
		enemyDir.AngleTo(player.Sub(enemy)),
		elapsed,
	}
}

// trainAnticipation teaches both anticipation families that, in the
// current situation, the player does kind.
func (e *Engine) trainAnticipation(kind combat.ActionKind) {
	p := e.player
	target := make([]float64, kinds)
	target[kind] = 1

	key1, elapsed1 := combat.NoAction, 0.0
	if prev := p.Previous; prev != nil {
		key1, elapsed1 = prev.Kind, e.now-prev.StartTime
	}
	for _, c := range e.roster {
		if c.IsPlayer() || !c.Alive {
			continue
		}
		e.nets.FromPlayer[key1].Learn(
			anticipationInputs(p.Position, c.Position, p.Direction, c.Direction, elapsed1), target)

		key2, elapsed2 := combat.NoAction, 0.0
		if cur := c.Current; cur != nil {
			key2, elapsed2 = cur.Kind, e.now-cur.StartTime
		}
		e.nets.FromEnemy[key2].Learn(
			anticipationInputs(p.Position, c.Position, p.Direction, c.Direction, elapsed2), target)
	}
}

// anticipate refreshes the guess of the player's next action. Every living
// enemy votes at each look-ahead offset; the strongest summed vote replaces
// the current guess when it beats the decayed confidence.
func (e *Engine) anticipate() {
	p := e.player
	if cur := p.Current; cur != nil && cur.Kind == combat.Guard {
		e.trainAnticipation(combat.Guard)
	}
	if cur := p.Current; cur == nil || cur.Kind == combat.NoAction {
		e.trainAnticipation(combat.NoAction)
	}

	ac := e.cfg.Anticipation
	e.antic.Decay(e.now, ac.DecayPerSecond)

	changed := false
	ref := p.ReferenceAction()
	steps := int(ac.Horizon/ac.Step + 1e-9)
	for i := 1; i <= steps; i++ {
		t := float64(i) * ac.Step
		var votes [kinds]float64
		pp := p.PositionIn(t)
		for _, c := range e.roster {
			if c.IsPlayer() || !c.Alive {
				continue
			}
			cp := c.PositionIn(t)
			if ref != nil {
				n := e.nets.FromPlayer[ref.Kind]
				in := anticipationInputs(pp, cp, p.Direction, c.Direction, t+e.now-ref.StartTime)
				addVotes(&votes, n.Think(in, n.Variance()))
			}
			n, elapsed := e.nets.FromEnemy[combat.NoAction], t
			if cur := c.Current; cur != nil {
				n, elapsed = e.nets.FromEnemy[cur.Kind], t+e.now-cur.StartTime
			}
			addVotes(&votes, n.Think(anticipationInputs(pp, cp, p.Direction, c.Direction, elapsed), n.Variance()))
		}
		for _, k := range combat.ActionKinds {
			if votes[k] > e.antic.Confidence {
				e.antic.set(k, votes[k], e.now, e.now+t)
				changed = true
			}
		}
	}

	if changed {
		logger.Log.WithFields(logrus.Fields{
			"kind":       e.antic.Kind,
			"confidence": e.antic.Confidence,
			"in":         e.antic.PredictedAt - e.now,
		}).Debug("Anticipating player action")
	}
}

func addVotes(votes *[kinds]float64, out []float64) {
	for k := range votes {
		if k < len(out) {
			votes[k] += out[k]
		}
	}
}
