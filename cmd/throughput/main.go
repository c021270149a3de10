package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/fortio/stats"
	"github.com/geseq/objectpool"
	"github.com/geseq/objectpool/internal/order"
	decimal "github.com/geseq/udecimal"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var percentiles = []float64{50, 75, 90, 95, 99, 99.9}

type runFlags struct {
	configFile  string
	workers     int
	duration    time.Duration
	gc          bool
	jsonOut     bool
	logLevel    string
	metricsAddr string
}

type report struct {
	Config      *objectpool.Config `json:"config"`
	Workers     int                `json:"workers"`
	Duration    string             `json:"duration"`
	Ops         uint64             `json:"ops"`
	OpsPerSec   float64            `json:"ops_per_sec"`
	Pool        objectpool.Stats   `json:"pool"`
	Percentiles map[string]float64 `json:"latency_us"`
}

func main() {
	var f runFlags
	if err := newRootCmd(&f).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(f *runFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "throughput",
		Short: "Acquire, fill and release pooled orders from many goroutines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f.configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f)
		},
	}

	def := objectpool.DefaultConfig()
	flags := root.Flags()
	flags.StringVarP(&f.configFile, "config", "c", "", "Path to a pool configuration file (optional)")
	flags.String("name", def.Name, "Pool name used in logs and metrics")
	flags.Int("capacity", def.Capacity, "Number of pooled orders")
	flags.String("lock-policy", def.LockPolicy, "Slot lock policy (shared, exclusive)")
	flags.IntVar(&f.workers, "workers", runtime.NumCPU(), "Number of goroutines acquiring from the pool")
	flags.DurationVar(&f.duration, "duration", 10*time.Second, "Benchmark duration")
	flags.BoolVar(&f.gc, "gc", true, "use gc")
	flags.BoolVar(&f.jsonOut, "json", false, "Print the final report as JSON")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running")

	return root
}

// loadConfig merges, lowest first: defaults, config file, OBJECTPOOL_* env, flags.
func loadConfig(cmd *cobra.Command, file string) (*objectpool.Config, error) {
	v := viper.New()

	def := objectpool.DefaultConfig()
	v.SetDefault("name", def.Name)
	v.SetDefault("capacity", def.Capacity)
	v.SetDefault("lock_policy", def.LockPolicy)

	v.SetEnvPrefix("OBJECTPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{"name": "name", "capacity": "capacity", "lock_policy": "lock-policy"} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &objectpool.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(ctx context.Context, cfg *objectpool.Config, f *runFlags) error {
	if f.workers < 1 {
		return errors.New("workers must be positive")
	}
	if !f.gc {
		debug.SetGCPercent(-1)
	}

	log, err := newLogger(f.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	p, err := objectpool.NewFromConfig(cfg, order.New,
		objectpool.WithLogger(log),
		objectpool.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}

	if f.metricsAddr != "" {
		srv := &http.Server{Addr: f.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, f.duration)
	defer cancel()

	log.Info("starting throughput benchmark",
		zap.Int("workers", f.workers),
		zap.Duration("duration", f.duration),
		zap.Int("capacity", p.Capacity()),
	)

	var ops atomic.Uint64
	hists := make([]*stats.Histogram, f.workers)
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < f.workers; w++ {
		hists[w] = stats.NewHistogram(0, 1)
		wg.Add(1)
		go func(id int, hist *stats.Histogram) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			work(ctx, p, uint64(id), hist, &ops)
		}(w, hists[w])
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := stats.NewHistogram(0, 1)
	for _, h := range hists {
		total.Transfer(h)
	}

	r := report{
		Config:      cfg,
		Workers:     f.workers,
		Duration:    elapsed.String(),
		Ops:         ops.Load(),
		OpsPerSec:   float64(ops.Load()) / elapsed.Seconds(),
		Pool:        p.Stats(),
		Percentiles: make(map[string]float64, len(percentiles)),
	}
	for _, pct := range total.Export().CalcPercentiles(percentiles).Percentiles {
		r.Percentiles[fmt.Sprintf("p%v", pct.Percentile)] = pct.Value
	}

	if f.jsonOut {
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	total.Print(os.Stdout, "acquire/fill/release latency (us)", percentiles)
	fmt.Printf("ops/s: %.0f exhausted: %d recycled: %d\n", r.OpsPerSec, r.Pool.Exhausted, r.Pool.Recycled)
	return nil
}

func work(ctx context.Context, p *objectpool.Pool[*order.Order], id uint64, hist *stats.Histogram, ops *atomic.Uint64) {
	qty := decimal.NewI(10, 0)
	price := decimal.MustParse("75.0")
	tick := decimal.MustParse("0.25")

	var tok uint64
	for ctx.Err() == nil {
		ds := time.Now()
		h, ok := p.Acquire()
		if !ok {
			runtime.Gosched()
			continue
		}

		tok++
		_ = h.Update(func(o *order.Order) {
			o.Set(id<<40|tok, order.SideType(tok&1), qty, price)
			o.Compose()
		})
		h.Release()

		hist.Record(float64(time.Since(ds).Nanoseconds()) / 1000)
		ops.Add(1)

		if tok%1024 == 0 {
			price = price.Add(tick)
		}
	}
}
