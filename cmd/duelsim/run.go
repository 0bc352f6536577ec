package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"duel_ai/internal/brain"
	"duel_ai/internal/config"
	"duel_ai/internal/exchange"
	"duel_ai/internal/logger"
	"duel_ai/internal/persistence/indexdb"
	"duel_ai/internal/sim"
	"duel_ai/internal/transport/observer"
)

type runFlags struct {
	config  string
	out     string
	observe string
	seed    int64
	speed   float64
	games   int
	saveLog bool
}

func runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play arena games against the decision engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGames(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "assets/duel.yaml", "config file")
	cmd.Flags().StringVar(&f.out, "out", "out.json", "output file (single game) or summary file (several)")
	cmd.Flags().StringVar(&f.observe, "observe", "", "serve decision frames over websocket on this address, e.g. :8090")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "arena and engine seed (overrides config)")
	cmd.Flags().Float64Var(&f.speed, "speed", 0, "game speed relative to real time; 0 runs unpaced")
	cmd.Flags().IntVar(&f.games, "games", 1, "number of games; networks carry over between games")
	cmd.Flags().BoolVar(&f.saveLog, "log", true, "save full event log when games==1")
	return cmd
}

func runGames(cmd *cobra.Command, f runFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig(f.config)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Arena.Seed, cfg.Engine.Seed = f.seed, f.seed
	}
	if f.games < 1 {
		f.games = 1
	}

	var opts []brain.Option
	if cfg.Engine.IndexDB != "" {
		idx, err := indexdb.OpenSQLite(cfg.Engine.IndexDB)
		if err != nil {
			return err
		}
		defer idx.Close()
		opts = append(opts, brain.WithRecorder(idx))
	}
	if f.observe != "" {
		hub := observer.NewHub()
		mux := http.NewServeMux()
		mux.Handle("/frames", hub.Handler())
		srv := &http.Server{Addr: f.observe, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.WithError(err).Error("Observer server stopped")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		logger.Log.WithField("addr", f.observe).Info("Serving decision frames on /frames")
		opts = append(opts, brain.WithTelemetry(hub))
	}

	aopts := sim.Options{Record: f.saveLog && f.games == 1}
	if f.speed > 0 {
		aopts.Pace = time.Duration(cfg.Arena.Tick / f.speed * float64(time.Second))
	}

	if f.games == 1 {
		res, err := playOne(ctx, cfg, opts, aopts)
		if res == nil {
			return err
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if err := os.WriteFile(f.out, sim.MarshalPretty(res), 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Game finished. Winner=%s, T=%.2fs, orders=%d -> %s\n",
			res.Winner, res.Duration, res.OrdersApplied, f.out)
		return nil
	}

	sum := newSummary()
	baseArena, baseEngine := cfg.Arena.Seed, cfg.Engine.Seed
	for g := 0; g < f.games && ctx.Err() == nil; g++ {
		cfg.Arena.Seed = baseArena + int64(g)*7919
		cfg.Engine.Seed = baseEngine + int64(g)*7919
		res, err := playOne(ctx, cfg, opts, aopts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return fmt.Errorf("game %d: %w", g, err)
		}
		sum.add(res)
		logger.Log.WithFields(logrus.Fields{
			"game":   g,
			"winner": res.Winner,
			"t":      res.Duration,
		}).Info("Game done")
	}
	if err := os.WriteFile(f.out, sim.MarshalPretty(sum.report()), 0644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Batch %d done -> %s\n", sum.games, f.out)
	return nil
}

// playOne wires a fresh channel, outbox, engine and arena for one game.
// Networks persist through the engine's network dir.
func playOne(ctx context.Context, cfg *config.Config, opts []brain.Option, aopts sim.Options) (*sim.Result, error) {
	ch, out := exchange.NewChannel(), exchange.NewOutbox()
	engine, err := brain.New(cfg.Engine, ch, out, opts...)
	if err != nil {
		return nil, err
	}
	arena, err := sim.New(cfg, ch, out, aopts)
	if err != nil {
		return nil, err
	}
	return arena.Run(ctx, engine.Start(ctx))
}

type summary struct {
	games    int
	wins     map[string]int
	sumT     float64
	sumHP    float64
	orders   int
	ignored  int
	dealt    map[string]float64
	taken    map[string]float64
	byAction map[string]int
}

func newSummary() *summary {
	return &summary{
		wins:     map[string]int{},
		dealt:    map[string]float64{},
		taken:    map[string]float64{},
		byAction: map[string]int{},
	}
}

func (s *summary) add(r *sim.Result) {
	s.games++
	s.wins[r.Winner]++
	s.sumT += r.Duration
	s.sumHP += r.PlayerHP
	s.orders += r.OrdersApplied
	s.ignored += r.OrdersIgnored
	for k, v := range r.DamageDealt {
		s.dealt[k] += v
	}
	for k, v := range r.DamageTaken {
		s.taken[k] += v
	}
	for _, m := range r.Actions {
		for k, n := range m {
			s.byAction[k] += n
		}
	}
}

func (s *summary) report() map[string]any {
	n := float64(s.games)
	if n == 0 {
		n = 1
	}
	rate := map[string]float64{}
	for k, v := range s.wins {
		rate[k] = float64(v) / n
	}
	return map[string]any{
		"games":          s.games,
		"win_rate":       rate,
		"avg_time":       s.sumT / n,
		"avg_player_hp":  s.sumHP / n,
		"orders_applied": s.orders,
		"orders_ignored": s.ignored,
		"damage_dealt":   s.dealt,
		"damage_taken":   s.taken,
		"actions":        s.byAction,
	}
}
