package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apsched/aps-scheduler/engine"
)

var statusConfigPath string

// statusCmd loads and validates an engine config without starting the
// scheduler, printing the resolved tunables and bootstrap tenants. Useful
// for catching a YAML typo before handing the file to `serve` (the strict
// KnownFields(true) decode in engine.LoadConfig rejects it either way, but
// this gives operators a way to check without also running the demo
// workload).
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Validate and print an engine configuration",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		cfg := engine.DefaultConfig()
		if statusConfigPath != "" {
			loaded, err := engine.LoadConfig(statusConfigPath)
			if err != nil {
				logrus.Fatalf("loading engine config: %v", err)
			}
			cfg = loaded
		}
		fmt.Printf("alpha=%.2f max_batch=%d kv_max=%d w_base_ms=%.2f tau=%.2f prefill_rate=%.1f decode_base=%.1f entropy_window=%d\n",
			cfg.Alpha, cfg.MaxBatch, cfg.KVMax, cfg.WBaseMillis, cfg.Tau, cfg.PrefillRate, cfg.DecodeBase, cfg.EntropyWindow)
		for _, t := range cfg.Tenants {
			fmt.Printf("tenant %-16s rate=%.2f burst_cap=%.2f\n", t.ID, t.Rate, t.BurstCap)
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "Engine config YAML to validate (defaults used if omitted)")
	rootCmd.AddCommand(statusCmd)
}
