package brain

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/sirupsen/logrus"

	"duel_ai/internal/combat"
	"duel_ai/internal/config"
	"duel_ai/internal/logger"
	"duel_ai/internal/neural"
	"duel_ai/internal/util"
)

// Network families. The family prefixes every file key.
const (
	FamilyAction           = "action"
	FamilyReaction         = "reaction"
	FamilyAnticipatePlayer = "anticipate-player"
	FamilyAnticipateEnemy  = "anticipate-enemy"
)

const kinds = int(combat.ActionKindCount)

// Ensemble is the full set of networks, one per family and key.
type Ensemble struct {
	// Action[k]: (distance, caster angle, target angle) -> P(success).
	Action [kinds]*neural.Network
	// Reaction[k][opp]: (distance, caster angle, target angle, advantage)
	// -> (damage dealt, damage taken).
	Reaction [kinds][kinds]*neural.Network
	// FromPlayer[k] predicts the player's next action from the player's own
	// current or previous action k.
	FromPlayer [kinds]*neural.Network
	// FromEnemy[k] predicts it from the responding enemy's current action k.
	FromEnemy [kinds]*neural.Network
}

func ActionKey(k combat.ActionKind) string { return FamilyAction + "_" + k.String() }
func ReactionKey(k, opp combat.ActionKind) string {
	return FamilyReaction + "_" + k.String() + "_" + opp.String()
}
func AnticipatePlayerKey(k combat.ActionKind) string { return FamilyAnticipatePlayer + "_" + k.String() }
func AnticipateEnemyKey(k combat.ActionKind) string  { return FamilyAnticipateEnemy + "_" + k.String() }

func toBounds(r config.Range) neural.Bounds { return neural.B(r[0], r[1]) }

// OpenEnsemble builds every network, restoring saved weights from dir when
// present. Each network gets its own generator derived from rng.
func OpenEnsemble(dir string, b config.BoundsConfig, rate float64, rng *rand.Rand) (*Ensemble, error) {
	if rng == nil {
		rng = util.New(0)
	}
	dist, angle, tm := toBounds(b.Distance), toBounds(b.Angle), toBounds(b.Time)
	dmg, prob := toBounds(b.Damage), toBounds(b.Probability)

	actionIn := []neural.Bounds{dist, angle, angle}
	reactionIn := []neural.Bounds{dist, angle, angle, tm}
	anticipateIn := []neural.Bounds{dist, angle, angle, tm}
	anticipateOut := make([]neural.Bounds, kinds)
	for i := range anticipateOut {
		anticipateOut[i] = prob
	}

	open := func(name string, in, out []neural.Bounds) (*neural.Network, error) {
		return neural.Open(dir, name, in, out,
			neural.WithLearningRate(rate), neural.WithRand(util.Derive(rng)))
	}

	e := &Ensemble{}
	var err error
	for _, k := range combat.ActionKinds {
		if e.Action[k], err = open(ActionKey(k), actionIn, []neural.Bounds{prob}); err != nil {
			return nil, err
		}
		for _, opp := range combat.ActionKinds {
			if e.Reaction[k][opp], err = open(ReactionKey(k, opp), reactionIn, []neural.Bounds{dmg, dmg}); err != nil {
				return nil, err
			}
		}
		if e.FromPlayer[k], err = open(AnticipatePlayerKey(k), anticipateIn, anticipateOut); err != nil {
			return nil, err
		}
		if e.FromEnemy[k], err = open(AnticipateEnemyKey(k), anticipateIn, anticipateOut); err != nil {
			return nil, err
		}
	}
	return e, nil
}

type member struct {
	family string
	net    *neural.Network
}

func (e *Ensemble) members() []member {
	out := make([]member, 0, kinds*(3+kinds))
	for _, k := range combat.ActionKinds {
		out = append(out, member{FamilyAction, e.Action[k]})
	}
	for _, k := range combat.ActionKinds {
		for _, opp := range combat.ActionKinds {
			out = append(out, member{FamilyReaction, e.Reaction[k][opp]})
		}
	}
	for _, k := range combat.ActionKinds {
		out = append(out, member{FamilyAnticipatePlayer, e.FromPlayer[k]})
	}
	for _, k := range combat.ActionKinds {
		out = append(out, member{FamilyAnticipateEnemy, e.FromEnemy[k]})
	}
	return out
}

// Trained is the number of networks with at least one sample.
func (e *Ensemble) Trained() int {
	n := 0
	for _, m := range e.members() {
		if m.net.Samples() > 0 {
			n++
		}
	}
	return n
}

// Save writes every trained network to dir and returns what was written.
// A directory that cannot be created skips the whole save; a single file
// that fails is logged and skipped.
func (e *Ensemble) Save(dir string) []SavedNetwork {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Log.WithError(err).WithField("dir", dir).Error("Creating network directory, save skipped")
		return nil
	}

	var saved []SavedNetwork
	for _, m := range e.members() {
		n := m.net
		if n.Samples() == 0 {
			continue
		}
		if err := n.Save(dir); err != nil {
			logger.Log.WithError(err).WithField("network", n.Name()).Error("Saving network")
			continue
		}
		logger.Log.WithFields(logrus.Fields{
			"network": n.Name(),
			"samples": n.Samples(),
		}).Debug("Network saved")
		saved = append(saved, SavedNetwork{
			Name:    n.Name(),
			Family:  m.family,
			Inputs:  n.Inputs(),
			Outputs: n.Outputs(),
			Samples: n.Samples(),
			Path:    neural.Path(dir, n.Name()),
		})
	}
	return saved
}

// Score combines the action and reaction networks into the expected value
// of casting kind against an opponent doing opp:
// P(success) * damage dealt - damage taken.
func (e *Ensemble) Score(kind, opp combat.ActionKind, distance, casterAngle, targetAngle, advantage float64, explore bool) float64 {
	an := e.Action[kind]
	rn := e.Reaction[kind][opp]
	av, rv := 0.0, 0.0
	if explore {
		av, rv = an.Variance(), rn.Variance()
	}
	p := an.Think([]float64{distance, casterAngle, targetAngle}, av)[0]
	r := rn.Think([]float64{distance, casterAngle, targetAngle, advantage}, rv)
	return p*r[0] - r[1]
}

func (s SavedNetwork) String() string {
	return fmt.Sprintf("%s (%s %dx%d, %d samples)", s.Name, s.Family, s.Inputs, s.Outputs, s.Samples)
}
