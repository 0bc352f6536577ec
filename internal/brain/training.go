package brain

import (
	"github.com/sirupsen/logrus"

	"duel_ai/internal/combat"
	"duel_ai/internal/logger"
)

// trainAction feeds one finished action to its action and reaction
// networks.
func (e *Engine) trainAction(a *combat.Action) {
	if a == nil {
		return
	}
	success := 0.0
	if a.Success {
		success = 1
	}
	e.nets.Action[a.Kind].Learn(
		[]float64{a.CastDistance, a.CastAngleForCaster, a.CastAngleForTarget},
		[]float64{success})

	e.nets.Reaction[a.Kind][a.TargetActionKind].Learn(
		[]float64{a.CastDistance, a.CastAngleForCaster, a.CastAngleForTarget, a.TargetActionAdvantage},
		[]float64{a.DamageDealt, a.DamageTaken})

	logger.Log.WithFields(logrus.Fields{
		"caster":  a.Caster.ID,
		"kind":    a.Kind,
		"against": a.TargetActionKind,
		"success": a.Success,
		"dealt":   a.DamageDealt,
		"taken":   a.DamageTaken,
	}).Debug("Action trained")
}
