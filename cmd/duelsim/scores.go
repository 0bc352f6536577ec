package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duel_ai/internal/brain"
	"duel_ai/internal/combat"
	"duel_ai/internal/util"
)

type scoresFlags struct {
	config      string
	opponent    string
	distance    float64
	casterAngle float64
	targetAngle float64
	advantage   float64
}

func scoresCmd() *cobra.Command {
	var f scoresFlags
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Score every action for one situation with the saved networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScores(f)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "assets/duel.yaml", "config file")
	cmd.Flags().StringVar(&f.opponent, "opponent", "NoAction", "action the opponent is performing")
	cmd.Flags().Float64Var(&f.distance, "distance", 2, "distance to the opponent")
	cmd.Flags().Float64Var(&f.casterAngle, "caster-angle", 0, "angle from the caster's facing to the opponent")
	cmd.Flags().Float64Var(&f.targetAngle, "target-angle", 0, "angle from the opponent's facing to the caster")
	cmd.Flags().Float64Var(&f.advantage, "advantage", 0, "time since the opponent's action started")
	return cmd
}

func runScores(f scoresFlags) error {
	cfg, err := loadConfig(f.config)
	if err != nil {
		return err
	}
	opp, err := combat.ParseActionKind(f.opponent)
	if err != nil {
		return err
	}
	e := cfg.Engine
	nets, err := brain.OpenEnsemble(e.NetworkDir, e.Bounds, e.LearningRate, util.New(e.Seed))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "vs %s at d=%.2f angles=(%.0f, %.0f) advantage=%.2f\n",
		opp, f.distance, f.casterAngle, f.targetAngle, f.advantage)
	for k := combat.NoAction + 1; k < combat.ActionKindCount; k++ {
		score := nets.Score(k, opp, f.distance, f.casterAngle, f.targetAngle, f.advantage, false)
		fmt.Fprintf(os.Stdout, "  %-12s %+.3f  (%d/%d samples)\n",
			k, score, nets.Action[k].Samples(), nets.Reaction[k][opp].Samples())
	}
	return nil
}
