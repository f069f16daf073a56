package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"bloompath/internal/app"
	"bloompath/internal/config"
	"bloompath/internal/dream"
	"bloompath/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bloompath",
	Short: "BloomPath bridge",
	Long: `BloomPath turns project tracker activity into a living garden.
Webhooks from Jira or Linear are normalized, classified, and translated
into growth triggers for the visualization host; the dreaming engine runs
what-if simulations over the active sprint without touching real data.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BLOOMPATH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dreamCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(eventsCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bloompath.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			a.StartConsumer(context.Background())

			if addr == "" {
				addr = cfg.Server.Addr
			}
			handler, err := server.New(server.Config{
				Providers:  a.Providers,
				Default:    cfg.Providers.Default,
				Classifier: a.Classifier,
				Queue:      a.Queue,
				Processor:  a.Processor,
				Dreams:     a.Dreams,
				DreamStore: a.DreamStore,
				Events:     a.Events,
				Auth:       server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
				Logger:     logger.Named("http"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
				a.Close(shutdownCtx)
			}()
			logger.Info("serving BloomPath API", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.addr)")
	return cmd
}

func dreamCmd() *cobra.Command {
	d := &cobra.Command{Use: "dream", Short: "Run and inspect what-if simulations"}
	d.AddCommand(dreamRunCmd())
	d.AddCommand(dreamListCmd())
	d.AddCommand(dreamShowCmd())
	return d
}

func dreamRunCmd() *cobra.Command {
	var providerName, targetEpic string
	var removeCount, additionalIssues, priority, shiftPct int
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a dream scenario over the active sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				prov, ok := a.Provider(providerName)
				if !ok {
					return fmt.Errorf("no provider configured; set providers in bloompath.yml")
				}
				snap, err := dream.BuildSnapshot(ctx, prov, nil)
				if err != nil {
					return err
				}
				var overrides dream.Overrides
				if cmd.Flags().Changed("remove-count") {
					overrides.RemoveCount = &removeCount
				}
				if cmd.Flags().Changed("additional-issues") {
					overrides.AdditionalIssues = &additionalIssues
				}
				if cmd.Flags().Changed("priority") {
					overrides.Priority = &priority
				}
				if cmd.Flags().Changed("target-epic") {
					overrides.TargetEpic = &targetEpic
				}
				if cmd.Flags().Changed("shift-percentage") {
					overrides.ShiftPercentage = &shiftPct
				}
				result, err := a.Dreams.Dream(ctx, args[0], snap, overrides)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				fmt.Printf("Dream %s (%s)\n", result.DreamID, result.ScenarioType)
				fmt.Printf("Risk: %.2f  Velocity: %.1f -> %.1f\n",
					result.RiskScore, result.OriginalVelocity, result.ProjectedVelocity)
				fmt.Println(result.ImpactSummary)
				if len(result.AffectedIssues) > 0 {
					fmt.Printf("Affected: %s\n", strings.Join(result.AffectedIssues, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "provider (defaults to config)")
	cmd.Flags().IntVar(&removeCount, "remove-count", 0, "team members to remove (resource_stress)")
	cmd.Flags().IntVar(&additionalIssues, "additional-issues", 0, "issues to add (scope_creep)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority of added issues (scope_creep)")
	cmd.Flags().StringVar(&targetEpic, "target-epic", "", "epic to shift focus to (priority_shift)")
	cmd.Flags().IntVar(&shiftPct, "shift-percentage", 0, "percent of resources to shift (priority_shift)")
	return cmd
}

func dreamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded dreams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.DreamStore.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Dream", "Scenario", "Risk", "Summary"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.DreamID, d.ScenarioType, fmt.Sprintf("%.2f", d.RiskScore), d.ImpactSummary})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func dreamShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <dream_id>",
		Short: "Show one recorded dream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.DreamStore.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if result == nil {
					return fmt.Errorf("dream %s not found", args[0])
				}
				return printJSON(result)
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	issue := &cobra.Command{Use: "issue", Short: "Inspect tracker issues"}
	issue.AddCommand(issueShowCmd())
	issue.AddCommand(issueDepsCmd())
	return issue
}

func issueShowCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "show <issue_id>",
		Short: "Fetch and normalize one issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				prov, ok := a.Provider(providerName)
				if !ok {
					return fmt.Errorf("no provider configured; set providers in bloompath.yml")
				}
				t, err := prov.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				if t == nil {
					return fmt.Errorf("issue %s not found", args[0])
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "provider (defaults to config)")
	return cmd
}

func issueDepsCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "deps <issue_id>",
		Short: "Show an issue's dependency edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				prov, ok := a.Provider(providerName)
				if !ok {
					return fmt.Errorf("no provider configured; set providers in bloompath.yml")
				}
				deps, err := prov.Dependencies(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(deps)
			})
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "provider (defaults to config)")
	return cmd
}

func sprintCmd() *cobra.Command {
	sprint := &cobra.Command{Use: "sprint", Short: "Inspect the active sprint"}
	var providerName string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show sprint health and garden weather",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				prov, ok := a.Provider(providerName)
				if !ok {
					return fmt.Errorf("no provider configured; set providers in bloompath.yml")
				}
				health, err := a.Processor.Health(ctx, prov)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(health)
				}
				if health.SprintID == "" {
					fmt.Println("No active sprint.")
					return nil
				}
				fmt.Printf("Sprint: %s (%s)\n", health.SprintName, health.SprintID)
				fmt.Printf("Weather: %s\n", health.Weather)
				fmt.Printf("Done %d/%d, blocked %d (progress %.0f%%)\n",
					health.Done, health.Total, health.Blocked, health.Progress*100)
				return nil
			})
		},
	}
	status.Flags().StringVar(&providerName, "provider", "", "provider (defaults to config)")
	sprint.AddCommand(status)
	return sprint
}

func completeCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "complete <issue_id>",
		Short: "Transition an issue to done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				prov, ok := a.Provider(providerName)
				if !ok {
					return fmt.Errorf("no provider configured; set providers in bloompath.yml")
				}
				if err := prov.TransitionToDone(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s transitioned to done\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "provider (defaults to config)")
	return cmd
}

func eventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recently processed events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				records, err := a.Events.Recent(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Provider", "Issue", "Event", "Status"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.Timestamp, r.Provider, r.IssueID, r.EventType, r.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if viper.GetBool("verbose") {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}
	ctx := cmd.Context()
	a, err := app.Build(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.DB.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
