// Command onboard-loadtest drives concurrent duplicate onboarding events through a
// Coordinator and reports suppression and latency figures.
//
// With no --redis-addr (and no REDIS_ADDR) every Redis backend runs against an
// embedded miniredis.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goOnboard "github.com/MrEthical07/goOnboard"
	"github.com/MrEthical07/goOnboard/step"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type options struct {
	entities    int
	duplicates  int
	concurrency int
	rate        float64
	backend     string
	redisAddr   string
	configPath  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "onboard-loadtest",
		Short:        "Load test the onboarding coordinator",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.entities <= 0 || opts.duplicates <= 0 || opts.concurrency <= 0 {
				return fmt.Errorf("entities, duplicates and concurrency must be > 0")
			}
			if opts.backend != "memory" && opts.backend != "redis" {
				return fmt.Errorf("invalid backend %q: must be memory or redis", opts.backend)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.entities, "entities", 1000, "number of distinct entities")
	f.IntVar(&opts.duplicates, "duplicates", 4, "copies of each event sent concurrently")
	f.IntVar(&opts.concurrency, "concurrency", 128, "maximum in-flight events")
	f.Float64Var(&opts.rate, "rate", 0, "events per second (0 = unlimited)")
	f.StringVar(&opts.backend, "backend", "memory", "storage, lock and limiter backend (memory|redis)")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	f.StringVar(&opts.configPath, "config", "", "optional YAML config file")
	return cmd
}

// codeBook captures codes handed to send_code.
type codeBook struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBook) Execute(_ context.Context, req goOnboard.ActionRequest) goOnboard.ActionResult {
	if req.Name == goOnboard.ActionSendCode {
		b.mu.Lock()
		b.codes[req.EntityID] = req.Payload["code"]
		b.mu.Unlock()
	}
	return goOnboard.ActionResult{Success: true}
}

func (b *codeBook) get(entityID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[entityID]
}

func run(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := goOnboard.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	cfg.Verification.MinVerifyDuration = 0
	// Every entity verifies from the same host.
	cfg.Verification.SourceLimit.MaxAttempts = opts.entities * 2

	builder := goOnboard.New()
	if opts.backend == "redis" {
		client, cleanup, err := redisClient(opts.redisAddr)
		if err != nil {
			return err
		}
		defer cleanup()
		cfg.Storage.Backend = "redis"
		cfg.Lock.Backend = "redis"
		cfg.RateLimit.Backend = "redis"
		cfg.Verification.Store = "redis"
		builder = builder.WithRedis(client)
	}

	book := &codeBook{codes: make(map[string]string, opts.entities)}
	coord, err := builder.WithConfig(cfg).WithExecutor(book).WithLatencyHistograms(true).Build()
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}
	defer coord.Close()

	var limiter *rate.Limiter
	if opts.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rate), opts.concurrency)
	}

	submit, err := runPhase(ctx, opts, limiter, func(i int) goOnboard.Event {
		return goOnboard.Event{
			EntityID: entityID(i),
			Action:   step.ActionSubmitInput,
			Payload:  fmt.Sprintf("load-%d@example.com", i),
		}
	}, coord)
	if err != nil {
		return err
	}
	verify, err := runPhase(ctx, opts, limiter, func(i int) goOnboard.Event {
		return goOnboard.Event{EntityID: entityID(i), Action: step.ActionVerifyCode, Payload: book.get(entityID(i))}
	}, coord)
	if err != nil {
		return err
	}

	fmt.Println("---- results ----")
	printStats("submit_input", submit)
	printStats("verify_code", verify)
	snap := coord.MetricsSnapshot()
	fmt.Printf("transitions=%d suppressed=%d verified=%d state_conflicts=%d lock_timeouts=%d\n",
		snap.Counters[goOnboard.MetricTransition],
		snap.Counters[goOnboard.MetricSuppressed],
		snap.Counters[goOnboard.MetricVerified],
		snap.Counters[goOnboard.MetricStateConflict],
		snap.Counters[goOnboard.MetricLockTimeout],
	)
	return nil
}

// runPhase sends opts.duplicates copies of one event per entity.
func runPhase(ctx context.Context, opts *options, limiter *rate.Limiter, event func(i int) goOnboard.Event, coord *goOnboard.Coordinator) (phaseStats, error) {
	var (
		mu         sync.Mutex
		latencies  = make([]time.Duration, 0, opts.entities*opts.duplicates)
		failures   atomic.Int64
		suppressed atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	start := time.Now()
	for i := 0; i < opts.entities; i++ {
		ev := event(i)
		for d := 0; d < opts.duplicates; d++ {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return phaseStats{}, err
				}
			}
			g.Go(func() error {
				t0 := time.Now()
				res, err := coord.Handle(gctx, ev)
				elapsed := time.Since(t0)
				switch {
				case err != nil:
					failures.Add(1)
				case res.Suppressed || res.Rerendered:
					suppressed.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	stats := computeStats(time.Since(start), latencies, failures.Load())
	stats.suppressed = suppressed.Load()
	return stats, nil
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func entityID(i int) string {
	return fmt.Sprintf("entity-%d", i)
}
