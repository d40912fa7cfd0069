package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/gateway"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/scheduler"
	"github.com/rahul/replayer/internal/script"
)

func newDaemonCmd(load loader) *cobra.Command {
	var (
		backend     string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Replay scheduled scripts, serve metrics and answer chat commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			if observability.IsTerminal() {
				observability.PrintBanner(os.Stderr)
			}

			orch, b, err := a.orchestrator(backend)
			if err != nil {
				return err
			}
			defer b.Close()
			defer orch.Close()

			sched := scheduler.New(a.store, orch, nil, a.console)
			sched.Interval = a.cfg.Schedule.PollIntervalDuration()
			sched.Journal = a.journal
			sched.Board = a.board

			if tgCfg, ok := a.cfg.GetTelegramConfig(); ok {
				commands := &gateway.Commands{
					Scripts: a.store,
					Run: func(ctx context.Context, sc script.Script) (executor.Result, error) {
						a.board.SetMode(observability.ModeRunning, sc.Name)
						defer a.board.SetMode(observability.ModeIdle, "")
						return a.runAndRecord(ctx, orch, sc, scheduler.TriggerChat, a.board.SetProgress)
					},
				}
				tg, err := gateway.NewTelegramGateway(tgCfg.Token, commands, a.console)
				if err != nil {
					return err
				}
				tg.AllowedChat = tgCfg.ChatID
				defer tg.Stop()

				sched.Gateway = tg
				sched.Report = gateway.FormatReport
				if tgCfg.ChatID != 0 {
					sched.ChatID = strconv.FormatInt(tgCfg.ChatID, 10)
				}
				go func() {
					if err := tg.Start(ctx); err != nil {
						a.console.Error("gateway stopped", "error", err)
						stop()
					}
				}()
			}

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, a)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			go sched.Start(ctx)
			stopStatus := a.liveStatus(ctx, time.Second)
			a.console.Info("daemon started", "backend", b.Name(), "poll", sched.Interval)

			<-ctx.Done()
			stopStatus()
			a.console.Info("daemon stopping")
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "browser backend (chromedp or rod); defaults to the config")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus endpoint, e.g. :9464")
	return cmd
}

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(prometheus.DefaultGatherer))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(string(a.board.Snapshot().Mode)))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.console.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.console.Info("serving metrics", "addr", addr)
	return srv
}
