package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/OpenTraceLab/OpenTraceMKII/internal/metrics"
	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

var (
	watchInterval   time.Duration
	watchIterations int
	watchMetrics    bool
	watchMetricsOn  string
)

var watchCmd = &cobra.Command{
	Use:   "watch <addr> [count]",
	Short: "Poll a RAM window and report changes",
	Long: `Poll count bytes (default 1) of target SRAM at a fixed rate and print every
byte that changes. Stops on Ctrl-C, after --iterations polls, or on the first
protocol error. With --metrics, Prometheus metrics are served while watching.

Examples:
  mk2 watch 0x0060 4 --interval 200ms
  mk2 watch 0x0100 --metrics --metrics-addr :9464`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	f := watchCmd.Flags()
	f.DurationVar(&watchInterval, "interval", 0, "poll interval (default from config, 500ms)")
	f.IntVar(&watchIterations, "iterations", 0, "stop after this many polls (0 = until interrupted)")
	f.BoolVar(&watchMetrics, "metrics", false, "serve Prometheus metrics")
	f.StringVar(&watchMetricsOn, "metrics-addr", "", "metrics listen address (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	count, err := parseCount(args[1:], 1)
	if err != nil {
		return err
	}
	if int(addr)+count > 0x10000 {
		return fmt.Errorf("range 0x%04X+%d exceeds address space", addr, count)
	}

	interval := cfg.Watch.Interval
	if watchInterval > 0 {
		interval = watchInterval
	}
	metricsCfg := cfg.Metrics
	if watchMetrics {
		metricsCfg.Enable = true
	}
	if watchMetricsOn != "" {
		metricsCfg.Addr = watchMetricsOn
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var probe *metrics.ProbeMetrics
	var obs mkii.Observer
	if metricsCfg.Enable {
		reg := metrics.NewRegistry()
		probe = metrics.NewProbeMetrics(reg)
		obs = probe

		mux := http.NewServeMux()
		mux.Handle(metricsCfg.Path, metrics.Handler(reg))
		srv := &http.Server{Addr: metricsCfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", zap.String("addr", metricsCfg.Addr), zap.String("path", metricsCfg.Path))
	}

	s, _, err := connect(obs)
	if err != nil {
		return err
	}
	defer closeSession(s)

	ram := mkii.NewRAM(s)
	limiter := rate.NewLimiter(rate.Every(interval), cfg.Watch.Burst)
	out := cmd.OutOrStdout()

	var prev []byte
	for i := 0; watchIterations == 0 || i < watchIterations; i++ {
		if err := limiter.Wait(ctx); err != nil {
			// Interrupted.
			return nil
		}

		cur := make([]byte, count)
		if err := ram.Peek(addr, cur); err != nil {
			return err
		}

		if prev == nil {
			fmt.Fprintf(out, "0x%04X: % X\n", addr, cur)
		} else if !bytes.Equal(prev, cur) {
			for j := range cur {
				if cur[j] == prev[j] {
					continue
				}
				a := int(addr) + j
				fmt.Fprintf(out, "0x%04X: 0x%02X -> 0x%02X\n", a, prev[j], cur[j])
				logger.Debug("ram changed", zap.Int("addr", a), zap.Uint8("old", prev[j]), zap.Uint8("new", cur[j]))
				if probe != nil {
					probe.WatchChanges.Inc()
				}
			}
		}
		prev = cur
	}
	return nil
}
