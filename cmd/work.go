package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hydra/internal/mission"
	"github.com/sells-group/hydra/internal/monitoring"
)

var (
	workPort   int
	workStatus bool
	workNoHeal bool
)

var workCmd = &cobra.Command{
	Use:         "work",
	Short:       "Claim and execute missions until interrupted",
	Annotations: withMode("work"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initWorker(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mc := cfg.Mission
		ctl := mission.NewController(mission.Config{
			WorkerID:             cfg.Worker.ID,
			Hostname:             hostname(),
			PollInterval:         time.Duration(mc.PollIntervalSecs) * time.Second,
			PollJitter:           mc.PollJitter,
			HeartbeatInterval:    time.Duration(mc.HeartbeatIntervalSecs) * time.Second,
			CandidateConcurrency: mc.CandidateConcurrency,
			MaxCandidates:        mc.MaxCandidates,
		}, env.Store, env.Gatherer, env.Enricher, env.Arbiter, env.Gate, mission.WithCounters(env.Counters))

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		checker := monitoring.NewChecker(monitoring.NewCollector(env.Counters), alerter, cfg.Monitoring)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ctl.Run(gctx) })
		if !workNoHeal {
			healer := mission.NewHealer(env.Store, healConfig(),
				mission.WithEscalator(alerter),
				mission.WithHealCounters(env.Counters),
			)
			g.Go(func() error {
				healer.Run(gctx)
				return nil
			})
		}
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		if workStatus {
			port := workPort
			if port == 0 {
				port = cfg.Server.Port
			}
			router := newStatusRouter(statusSource{
				WorkerID: ctl.WorkerID(),
				Hostname: hostname(),
				Tracker:  env.Tracker,
				Breakers: env.Breakers,
				Counters: env.Counters,
				Started:  time.Now(),
			}, cfg.Server.CORSOrigins)
			g.Go(func() error { return serveStatus(gctx, router, port) })
		}

		zap.L().Info("hydra worker running", zap.String("worker_id", ctl.WorkerID()))
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func healConfig() mission.HealConfig {
	mc := cfg.Mission
	return mission.HealConfig{
		Interval:       time.Duration(mc.HealIntervalSecs) * time.Second,
		StaleAfter:     time.Duration(mc.WorkerStaleAfterSecs) * time.Second,
		MissionTimeout: time.Duration(mc.MissionTimeoutSecs) * time.Second,
		MaxHeals:       mc.MaxHeals,
	}
}

var healCmd = &cobra.Command{
	Use:         "heal",
	Short:       "Run one healing pass over stale missions",
	Annotations: withMode("heal"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		healer := mission.NewHealer(st, healConfig(), mission.WithEscalator(monitoring.NewAlerter(cfg.Monitoring)))
		rep, err := healer.Heal(ctx)
		if err != nil {
			zap.L().Error("heal pass finished with errors", zap.Error(err))
		}
		if perr := printJSON(cmd, rep); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	workCmd.Flags().BoolVar(&workStatus, "status", false, "serve /health and /status")
	workCmd.Flags().IntVar(&workPort, "port", 0, "status server port (default from config)")
	workCmd.Flags().BoolVar(&workNoHeal, "no-heal", false, "do not run the healing loop in this process")
	rootCmd.AddCommand(workCmd, healCmd)
}
