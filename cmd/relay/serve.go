package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flare-foundation/signing-policy-relay/chill"
	"github.com/flare-foundation/signing-policy-relay/config"
	"github.com/flare-foundation/signing-policy-relay/entity"
	"github.com/flare-foundation/signing-policy-relay/fees"
	"github.com/flare-foundation/signing-policy-relay/host"
	"github.com/flare-foundation/signing-policy-relay/log"
	"github.com/flare-foundation/signing-policy-relay/metrics"
	"github.com/flare-foundation/signing-policy-relay/queryapi"
	"github.com/flare-foundation/signing-policy-relay/votepower"
)

// processMetricsInterval is how often the background loop samples process
// health (goroutines, memory, CPU) and pushes the relay's own reward-epoch
// and registration state into the metrics reporter.
const processMetricsInterval = 10 * time.Second

// metricsReportInterval is how often the metrics reporter flushes recorded
// values to its registered backends.
const metricsReportInterval = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay node, serving the query API and metrics over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("config", "", "path to a TOML config file overlaying environment defaults")
	cmd.Flags().String("epoch-manager", "0x0000000000000000000000000000000000000000", "epoch manager address passed through to the submission gate")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	epochManagerHex, _ := cmd.Flags().GetString("epoch-manager")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !common.IsHexAddress(epochManagerHex) {
		return fmt.Errorf("invalid --epoch-manager address %q", epochManagerHex)
	}

	configureLogging(cfg.LogFile)

	h := host.New()
	h.SetEntityManager(entity.NewMemManager())
	h.SetWNatProvider(votepower.NewMemWNat())
	h.SetPChainStakeMirror(votepower.NewMemPChainMirror())
	h.SetFeeSchedule(fees.NewMemSchedule())
	h.SetChillTable(chill.New())

	if err := h.Build(cfg.MaxVoters, common.HexToAddress(epochManagerHex), cfg.RelayConfig(), cfg.WNatCapPPM); err != nil {
		return fmt.Errorf("wire host: %w", err)
	}

	relayCore, err := h.Relay()
	if err != nil {
		return fmt.Errorf("relay core: %w", err)
	}
	reg, err := h.Registry()
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	queryServer := queryapi.New(h)
	go func() {
		log.Default().Info("query API listening", "addr", cfg.HTTPAddr)
		if err := http.ListenAndServe(cfg.HTTPAddr, queryServer.Handler()); err != nil && err != http.ErrServerClosed {
			log.Default().Error("query API server exited", "error", err)
		}
	}()

	sysMetrics := metrics.NewSystemMetrics()
	sysMetrics.SetLastInitializedRewardEpochFunc(relayCore.State().LastInitializedRewardEpoch)
	sysMetrics.SetRegisteredVoterCountFunc(func() int {
		return reg.NumberOfRegisteredVoters(relayCore.State().LastInitializedRewardEpoch())
	})
	cpuTracker := metrics.NewCPUTracker()
	collector := metrics.NewMetricsCollector(metrics.CollectorConfig{EnableHistograms: true})
	submissionMeter := metrics.NewMeter()

	reporter := metrics.NewMetricsReporter(metricsReportInterval)
	reporter.RegisterBackend("registry", metrics.NewRegistryReportBackend(metrics.DefaultRegistry))
	reporter.Start()
	defer reporter.Stop()

	go collectProcessHealth(sysMetrics, cpuTracker, collector, reporter)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.NewPrometheusClientHandler(metrics.DefaultRegistry, "relay"))
		mux.HandleFunc("/debug/process", debugProcessHandler(sysMetrics, cpuTracker, collector, submissionMeter))
		log.Default().Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Default().Error("metrics server exited", "error", err)
		}
	}()

	return relayInputLoop(cmd.InOrStdin(), relayCore.Relay, submissionMeter)
}

// collectProcessHealth periodically samples process and relay health and
// pushes the values into both the Prometheus-backed reporter and the debug
// collector, until the process exits.
func collectProcessHealth(sm *metrics.SystemMetrics, cpu *metrics.CPUTracker, collector *metrics.MetricsCollector, reporter *metrics.MetricsReporter) {
	ticker := time.NewTicker(processMetricsInterval)
	defer ticker.Stop()

	for range ticker.C {
		sm.Collect()
		cpu.RecordCPU()

		mem := sm.MemoryUsage()
		values := map[string]float64{
			"process.goroutines":           float64(sm.GoRoutineCount()),
			"process.heap_alloc_bytes":     float64(mem.HeapAlloc),
			"process.uptime_seconds":       sm.UptimeSeconds(),
			"process.cpu_usage_percent":    cpu.Usage(),
			"relay.last_initialized_epoch": float64(sm.LastInitializedRewardEpoch()),
			"relay.registered_voter_count": float64(sm.RegisteredVoterCount()),
		}
		for name, v := range values {
			reporter.RecordMetric(name, v)
			collector.Record(name, v, nil)
		}
	}
}

// debugProcessHandler serves a JSON snapshot of process and relay health,
// the same values reported to Prometheus, plus the submission-throughput
// meter, for operators without a Prometheus scraper handy.
func debugProcessHandler(sm *metrics.SystemMetrics, cpu *metrics.CPUTracker, collector *metrics.MetricsCollector, meter *metrics.Meter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := sm.ExportJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var out map[string]interface{}
		if err := json.Unmarshal(snapshot, &out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out["cpuUsagePercent"] = cpu.Usage()
		out["submissionRate1m"] = meter.Rate1()
		out["submissionRate5m"] = meter.Rate5()
		out["submissionCount"] = meter.Count()
		out["collected"] = collector.Summary()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

// relayInputLoop reads one hex-encoded calldata record per line and feeds it
// through relayFn, logging the outcome and marking meter with one event per
// line that reaches relayFn. It returns when the reader is exhausted (stdin
// closed) or on a read error other than EOF.
func relayInputLoop(r io.Reader, relayFn func([]byte) error, meter *metrics.Meter) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "0x")
		input, err := hex.DecodeString(line)
		if err != nil {
			log.Default().Error("discarding malformed calldata line", "error", err)
			continue
		}
		meter.Mark(1)
		if err := relayFn(input); err != nil {
			log.Default().Warn("relay rejected submission", "error", err)
			continue
		}
		log.Default().Info("relay accepted submission")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// configureLogging switches the package-level default logger onto a
// rotating file sink when logFile is set, matching the source manifest's
// lumberjack-backed log rotation.
func configureLogging(logFile string) {
	if logFile == "" {
		return
	}
	writer := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	log.SetDefault(log.NewWithHandler(handler))
}
