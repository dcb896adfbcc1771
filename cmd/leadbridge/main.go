package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadbridge/leadbridge/internal/orchestrator"
	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/connector/registry"
	"github.com/leadbridge/leadbridge/pkg/logger"
	"github.com/leadbridge/leadbridge/pkg/store"

	// Import all available connectors to register them
	_ "github.com/leadbridge/leadbridge/pkg/connector/salesforce"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var appConfigFile string

	root := &cobra.Command{
		Use:   "leadbridge",
		Short: "Leadbridge - CRM connector synchronization service",
		Long: `Leadbridge synchronizes leads, contacts and accounts from external
CRM systems into a local PostgreSQL store, with incremental watermarks and a
full audit trail of every sync run.`,
	}
	root.PersistentFlags().StringVar(&appConfigFile, "config", "", "Path to application configuration YAML file (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Leadbridge v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connectors",
		Short: "List available connector types",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available connector types:")
			for _, typeName := range registry.List() {
				fmt.Printf("  - %s\n", typeName)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup(cmd.Context(), appConfigFile)
			if err != nil {
				return err
			}
			defer st.Close()

			connectors, err := st.ListConnectors(cmd.Context())
			if err != nil {
				return err
			}
			if len(connectors) == 0 {
				fmt.Println("No connectors registered")
				return nil
			}
			ids := make([]string, 0, len(connectors))
			for id := range connectors {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("%s\t%s\n", id, connectors[id])
			}
			return nil
		},
	})

	var logsConnectorID string
	var logsLimit int
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent sync runs for a stored connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup(cmd.Context(), appConfigFile)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.RecentSyncLogs(cmd.Context(), logsConnectorID, logsLimit)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				finished := "-"
				if entry.FinishedAt != nil {
					finished = entry.FinishedAt.Format(time.RFC3339)
				}
				line := fmt.Sprintf("%s  %s  %-9s  processed=%d failed=%d",
					entry.StartedAt.Format(time.RFC3339), finished, entry.Status,
					entry.RecordsProcessed, entry.RecordsFailed)
				if entry.Error != "" {
					line += "  error=" + entry.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	logsCmd.Flags().StringVarP(&logsConnectorID, "connector", "c", "", "Stored connector id (required)")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 20, "Number of runs to show")
	_ = logsCmd.MarkFlagRequired("connector")
	root.AddCommand(logsCmd)

	var leadsTenantID, leadID string
	leadsCmd := &cobra.Command{
		Use:   "leads",
		Short: "Inspect synchronized leads for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup(cmd.Context(), appConfigFile)
			if err != nil {
				return err
			}
			defer st.Close()

			if leadID != "" {
				lead, err := st.GetLead(cmd.Context(), leadsTenantID, leadID)
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(lead, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			count, err := st.CountLeads(cmd.Context(), leadsTenantID)
			if err != nil {
				return err
			}
			fmt.Printf("%d lead(s) for tenant %q\n", count, leadsTenantID)
			return nil
		},
	}
	leadsCmd.Flags().StringVarP(&leadsTenantID, "tenant", "t", "", "Tenant id (required)")
	leadsCmd.Flags().StringVar(&leadID, "id", "", "Show one lead as JSON instead of the count")
	_ = leadsCmd.MarkFlagRequired("tenant")
	root.AddCommand(leadsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup(cmd.Context(), appConfigFile)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Migrate(cmd.Context())
		},
	})

	var registerFile string
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Store a connector configuration from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup(cmd.Context(), appConfigFile)
			if err != nil {
				return err
			}
			defer st.Close()

			cfg, err := config.LoadConnectorConfig(registerFile)
			if err != nil {
				return fmt.Errorf("connector configuration error: %w", err)
			}
			if err := st.SaveConnector(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Printf("Connector %q registered\n", cfg.ID)
			return nil
		},
	}
	registerCmd.Flags().StringVarP(&registerFile, "file", "f", "", "Path to connector configuration YAML file (required)")
	_ = registerCmd.MarkFlagRequired("file")
	root.AddCommand(registerCmd)

	var syncConnectorID string
	var fullSync bool
	var syncTimeout time.Duration
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync for a stored connector",
		Long: `Run one sync for a stored connector. By default only records changed
since the last successful run are fetched; --full refetches everything.

Example:
  leadbridge sync --connector sf-prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup(cmd.Context(), appConfigFile)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
			defer cancel()

			orch := orchestrator.New(st, registry.GetRegistry())
			result, err := orch.RunSync(ctx, syncConnectorID, fullSync)
			if err != nil {
				return err
			}
			fmt.Printf("Sync finished: %d processed, %d failed\n",
				result.RecordsProcessed, result.RecordsFailed)
			for _, msg := range result.Errors {
				fmt.Printf("  error: %s\n", msg)
			}
			return nil
		},
	}
	syncCmd.Flags().StringVarP(&syncConnectorID, "connector", "c", "", "Stored connector id (required)")
	syncCmd.Flags().BoolVar(&fullSync, "full", false, "Ignore the watermark and fetch everything")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Minute, "Sync timeout")
	_ = syncCmd.MarkFlagRequired("connector")
	root.AddCommand(syncCmd)

	var testConnectorID string
	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Test a stored connector's connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup(cmd.Context(), appConfigFile)
			if err != nil {
				return err
			}
			defer st.Close()

			orch := orchestrator.New(st, registry.GetRegistry())
			result, err := orch.TestConnector(cmd.Context(), testConnectorID)
			if err != nil {
				return err
			}
			if result.Success {
				fmt.Printf("OK: %s\n", result.Message)
				return nil
			}
			return fmt.Errorf("connection test failed: %s", result.Message)
		},
	}
	testCmd.Flags().StringVarP(&testConnectorID, "connector", "c", "", "Stored connector id (required)")
	_ = testCmd.MarkFlagRequired("connector")
	root.AddCommand(testCmd)

	err := root.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the application configuration, initializes logging and opens
// the store.
func setup(ctx context.Context, configFile string) (*store.Store, error) {
	app := config.NewAppConfig()
	if configFile != "" {
		loaded, err := config.LoadAppConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("application configuration error: %w", err)
		}
		app = loaded
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		app.DatabaseURL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		app.LogLevel = level
	}
	if err := app.Validate(); err != nil {
		return nil, fmt.Errorf("application configuration error: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:    app.LogLevel,
		Encoding: app.LogEncoding,
	}); err != nil {
		return nil, fmt.Errorf("logger initialization error: %w", err)
	}

	st, err := store.New(ctx, app.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Get().Info("store connected", zap.String("log_level", app.LogLevel))
	return st, nil
}
