package brain

import (
	"github.com/sirupsen/logrus"

	"duel_ai/internal/combat"
	"duel_ai/internal/exchange"
	"duel_ai/internal/logger"
	"duel_ai/internal/util"
)

// opponentAction is what the player is doing right now, or failing that
// the anticipated action, with its time advantage.
func (e *Engine) opponentAction() (combat.ActionKind, float64) {
	if cur := e.player.Current; cur != nil {
		return cur.Kind, e.now - cur.StartTime
	}
	return e.antic.Kind, e.now - e.antic.PredictedAt
}

// choose scores every kind for c and returns the best one. Only a score
// strictly above zero beats NoAction; ties keep the earlier kind.
func (e *Engine) choose(c *combat.Character) (combat.ActionKind, [kinds]float64) {
	p := e.player
	dist := c.Position.Dist(p.Position)
	casterAngle := c.Direction.AngleTo(p.Position.Sub(c.Position))
	targetAngle := p.Direction.AngleTo(c.Position.Sub(p.Position))
	opp, adv := e.opponentAction()

	var scores [kinds]float64
	best, bestScore := combat.NoAction, 0.0
	for _, k := range combat.ActionKinds {
		scores[k] = e.nets.Score(k, opp, dist, casterAngle, targetAngle, adv, true)
		if scores[k] > bestScore {
			best, bestScore = k, scores[k]
		}
	}
	return best, scores
}

// orderFor turns a chosen kind into the position and facing the game side
// should act on.
func (e *Engine) orderFor(c *combat.Character, kind combat.ActionKind) (combat.Vec3, combat.Vec3) {
	opp := e.player.Position
	toward := opp.Sub(c.Position).Norm()

	switch kind {
	case combat.LightAttack, combat.HeavyAttack, combat.Guard:
		return opp, toward
	case combat.Roll:
		away := toward.Scale(-1).Flat().Norm()
		return c.Position, away.Perpendicular(util.Sign(e.rng))
	default:
		if c.Position.Dist(opp) < e.cfg.EngagementRadius {
			return c.Position, toward
		}
		return opp, toward
	}
}

// act publishes one order for every living, idle, AI-controlled character.
func (e *Engine) act() []exchange.Order {
	var issued []exchange.Order
	for _, c := range e.roster {
		if c.IsPlayer() || !c.Alive || !c.IsIdle() {
			continue
		}
		kind, scores := e.choose(c)
		pos, dir := e.orderFor(c, kind)
		ord := e.out.SetOrder(c.ID, kind, pos, dir)
		issued = append(issued, ord)
		e.orders++

		if logger.Log.IsLevelEnabled(logrus.TraceLevel) {
			logger.Log.WithFields(logrus.Fields{
				"character": c.ID,
				"scores":    scores,
			}).Trace("Action scores")
		}
		logger.Log.WithFields(logrus.Fields{
			"character": c.ID,
			"action":    kind,
		}).Debug("Order set")
	}
	return issued
}
