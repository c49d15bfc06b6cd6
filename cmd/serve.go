package cmd

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apsched/aps-scheduler/engine"
)

var (
	configPath   string
	demoDuration time.Duration
	demoRate     float64
	demoSeed     int64
)

// serveCmd stands in for the out-of-scope HTTP ingress (SPEC_FULL.md §1):
// it wires the engine's six components together, drives a synthetic
// per-tenant Poisson arrival generator against them, and prints a metrics
// snapshot on exit, so the engine is runnable end to end without an
// external collaborator.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling engine with a synthetic demo workload",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Engine config YAML (defaults used if omitted)")
	serveCmd.Flags().DurationVar(&demoDuration, "duration", 5*time.Second, "How long to run the synthetic demo workload")
	serveCmd.Flags().Float64Var(&demoRate, "rate", 50, "Per-tenant Poisson arrival rate, requests/sec")
	serveCmd.Flags().Int64Var(&demoSeed, "seed", 1, "RNG seed for the synthetic arrival generator")
}

func runServe() {
	cfg := engine.DefaultConfig()
	if configPath != "" {
		loaded, err := engine.LoadConfig(configPath)
		if err != nil {
			logrus.Fatalf("loading engine config: %v", err)
		}
		cfg = loaded
	}
	if len(cfg.Tenants) == 0 {
		cfg.Tenants = defaultDemoTenants()
	}

	eng := engine.New(cfg, nil)
	eng.Start()
	logrus.Infof("engine started with %d tenant(s), running demo for %s", len(cfg.Tenants), demoDuration)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i, t := range cfg.Tenants {
		wg.Add(1)
		go generateArrivals(&wg, stop, eng, t.ID, demoRate, demoSeed+int64(i))
	}

	time.Sleep(demoDuration)
	close(stop)
	wg.Wait()
	eng.Stop()

	snap := eng.MetricsSnapshot()
	printSnapshot(snap)
}

func defaultDemoTenants() []engine.TenantConfig {
	return []engine.TenantConfig{
		{ID: "tenant-a", Rate: 1000, BurstCap: 1000},
		{ID: "tenant-b", Rate: 200, BurstCap: 500},
		{ID: "tenant-c", Rate: 50, BurstCap: 100},
	}
}

// generateArrivals issues Submit calls for tenantID at exponentially
// distributed intervals (a Poisson arrival process), matching the teacher's
// PoissonSampler idiom (sim/workload/arrival.go) generalized from a
// discrete-event schedule to real-wall-clock sleeps between submissions.
func generateArrivals(wg *sync.WaitGroup, stop <-chan struct{}, eng *engine.Engine, tenantID string, ratePerSec float64, seed int64) {
	defer wg.Done()
	rng := rand.New(rand.NewSource(seed))
	bid := 1 + rng.Intn(10)

	for {
		iat := time.Duration(rng.ExpFloat64() / ratePerSec * float64(time.Second))
		select {
		case <-stop:
			return
		case <-time.After(iat):
		}

		tokens := 50 + rng.Intn(200)
		req, err := eng.Submit(tenantID, "demo prompt", tokens, bid)
		if err != nil {
			logrus.Debugf("serve: tenant %s submit rejected: %v", tenantID, err)
			continue
		}
		go func() {
			outcome := req.Wait()
			if outcome.Err != nil {
				logrus.Warnf("serve: tenant %s request %s failed: %v", tenantID, req.ID, outcome.Err)
			}
		}()
	}
}

func printSnapshot(s engine.MetricsSnapshot) {
	fmt.Println("=== Engine Metrics ===")
	fmt.Printf("Throughput (tok/s)   : %.2f\n", s.ThroughputTPS)
	fmt.Printf("GPU utilization      : %.2f%%\n", s.GPUUtilization*100)
	fmt.Printf("Cost per Mtoken ($)  : %.4f\n", s.CostPerMToken)
	fmt.Printf("Jain fairness        : %.4f\n", s.JainFairness)
	fmt.Printf("Current entropy      : %.3f bits\n", s.CurrentEntropy)
	fmt.Printf("Current window (ms)  : %.3f\n", s.CurrentWindowMs)
	fmt.Printf("Queue depth          : %d\n", s.QueueDepth)
	fmt.Printf("Latency p50/p99 (s)  : %.3f / %.3f\n", s.LatencyP50Seconds, s.LatencyP99Seconds)
	for tenant, n := range s.FailuresByTenant {
		fmt.Printf("Failures[%s]        : %d\n", tenant, n)
	}
}
