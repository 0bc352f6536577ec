package sim

import (
	"duel_ai/internal/combat"
	"duel_ai/internal/util"
)

// scriptPlayer drives the player: close in on the nearest living enemy,
// answer a visible windup with a roll or a guard, otherwise swing on a
// fixed cooldown.
func (a *Arena) scriptPlayer() {
	p := a.player
	if !p.Alive() || !p.Idle() {
		return
	}
	target := a.nearestEnemy()
	if target == nil {
		p.HasGoal = false
		return
	}
	s := a.cfg.Arena.Script

	if threat := a.threat(); threat != nil {
		threat.Act.seen = true
		away := p.Pos.Sub(threat.Pos).Flat().Norm()
		switch r := a.rng.Float64(); {
		case r < s.RollChance:
			a.startAction(p, combat.Roll, away.Perpendicular(util.Sign(a.rng)))
			return
		case r < s.RollChance+s.GuardChance:
			a.startAction(p, combat.Guard, away.Scale(-1))
			return
		}
	}

	toward := target.Pos.Sub(p.Pos)
	if toward.Flat().Len() > a.specs[combat.LightAttack].Range {
		p.Goal, p.HasGoal = target.Pos, true
		return
	}
	p.HasGoal = false
	if a.now < p.nextAttack {
		p.Dir = toward.Flat().Norm()
		return
	}
	p.nextAttack = a.now + s.AttackCD
	kind := combat.LightAttack
	if a.rng.Float64() < s.HeavyChance {
		kind = combat.HeavyAttack
	}
	a.startAction(p, kind, toward.Flat())
}

func (a *Arena) nearestEnemy() *fighter {
	var best *fighter
	bestD := 0.0
	for _, en := range a.enemies {
		if !en.Alive() {
			continue
		}
		if d := en.Pos.Dist(a.player.Pos); best == nil || d < bestD {
			best, bestD = en, d
		}
	}
	return best
}

// threat is an enemy winding up an attack that would reach the player and
// that the player has not reacted to yet.
func (a *Arena) threat() *fighter {
	for _, en := range a.enemies {
		if !en.Alive() || !en.in(stageWindup, combat.LightAttack, combat.HeavyAttack) || en.Act.seen {
			continue
		}
		if en.Pos.Dist(a.player.Pos) <= en.Act.Spec.Range+0.5 {
			return en
		}
	}
	return nil
}
