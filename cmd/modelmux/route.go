package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hrygo/modelmux/capability"
	"github.com/hrygo/modelmux/intent"
	"github.com/hrygo/modelmux/pipeline"
	"github.com/hrygo/modelmux/routing"
)

var routeJSON bool

// routeCmd prints the routing decision for a prompt without calling any
// provider. Useful for tuning dispatch.yaml.
var routeCmd = &cobra.Command{
	Use:   "route [text]",
	Short: "Print the routing decision for a prompt without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		instanceProfile, err := buildProfile()
		if err != nil {
			return err
		}
		dispatchCfg, err := loadDispatchConfig(instanceProfile)
		if err != nil {
			return err
		}

		registry := capability.NewRegistry(capability.DefaultSettings())
		providers := dispatchCfg.Routing.Providers
		if len(providers) == 0 {
			providers = routing.DefaultProviders()
		}
		table := routing.NewStrategyTable(dispatchCfg.Routing.Strategies, dispatchCfg.Routing.Weights)
		routerCfg := dispatchCfg.Routing.RouterConfig()
		if instanceProfile.Multicore {
			routerCfg.Multicore = true
		}
		router := routing.NewRouter(providers, table, registry, routerCfg)

		ctx := context.Background()
		intentProfile := intent.NewKeywordClassifier().Classify(ctx, text)
		tasks := pipeline.NewListDecomposer(0).Decompose(ctx, text)

		decisions := make([]routing.Decision, 0, len(tasks))
		for _, task := range tasks {
			decisions = append(decisions, router.RouteTask(task, &intentProfile))
		}

		if routeJSON {
			return json.NewEncoder(os.Stdout).Encode(decisions)
		}

		confidence := "unknown"
		if intentProfile.HasConfidence() {
			confidence = fmt.Sprintf("%.2f", intentProfile.Confidence)
		}
		fmt.Printf("category=%s confidence=%s complexity=%s\n",
			intentProfile.Category, confidence, intentProfile.Complexity)
		for i, decision := range decisions {
			fmt.Printf("\ntask %d: %s\n", i+1, tasks[i].Text)
			if len(decision.Candidates) == 0 {
				fmt.Println("  no executable candidates")
				continue
			}
			for rank, candidate := range decision.Candidates {
				fmt.Printf("  %d. %-12s %-28s tier=%-9s score=%-8.2f %s\n",
					rank+1, candidate.Provider, candidate.Model, candidate.Tier, candidate.Score, candidate.Reason)
			}
			if decision.Parallel {
				fmt.Println("  parallel fan-out: eligible")
			}
		}
		return nil
	},
}

func init() {
	routeCmd.Flags().BoolVar(&routeJSON, "json", false, "emit decisions as JSON")
}
