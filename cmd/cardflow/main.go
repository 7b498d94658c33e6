package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds the connection settings shared by client commands
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// CreateFlags holds flags for the create command
type CreateFlags struct {
	CardID       string
	CustomerID   string
	CustomerName string
	Mobile       string
	Address      string
	Priority     string
	API          APIFlags
}

// UpdateFlags holds flags for the update command
type UpdateFlags struct {
	CardID   string
	Status   string
	Source   string
	Location string
	Tracking string
	Message  string
	API      APIFlags
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cli := command{}

	root.AddCommand(
		createServeCommand(globalFlags),
		createCreateCommand(cli),
		createUpdateCommand(cli),
		createStatusCommand(cli),
		createSearchCommand(cli),
		createDelayedCommand(cli),
		createAnalyzeCommand(cli),
		createBottlenecksCommand(cli),
		createDashboardCommand(cli),
		createInsightsCommand(cli),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "cardflow",
		Short: "Card fulfillment journey tracking service",
		Long: `Cardflow tracks physical payment cards from creation through embossing,
dispatch and delivery, analyzes per-stage bottlenecks and pushes live
updates to dashboards.

Examples:
  cardflow serve --config=cardflow.toml
  cardflow create --card-id=CARD-1 --customer-id=CUST-1
  cardflow update --card-id=CARD-1 --status=QUEUED
  cardflow status --card-id=CARD-1 --api-url=http://remote:8080`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, api *APIFlags) {
	cmd.Flags().StringVar(&api.APIUrl, "api-url", "", "server URL (default http://localhost:8080)")
	cmd.Flags().DurationVar(&api.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createCreateCommand(cli command) *cobra.Command {
	flags := &CreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new card journey",
		Long: `Register a new card journey in CREATED stage.

Examples:
  cardflow create --card-id=CARD-1 --customer-id=CUST-1 --priority=URGENT
  cardflow create --card-id=CARD-2 --customer-id=CUST-2 --address="10 Collins St, Melbourne"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Create(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.CardID, "card-id", "", "card id (required)")
	cmd.Flags().StringVar(&flags.CustomerID, "customer-id", "", "customer id (required)")
	cmd.Flags().StringVar(&flags.CustomerName, "customer-name", "", "customer display name")
	cmd.Flags().StringVar(&flags.Mobile, "mobile", "", "customer mobile number")
	cmd.Flags().StringVar(&flags.Address, "address", "", "delivery address")
	cmd.Flags().StringVar(&flags.Priority, "priority", "STANDARD", "priority: STANDARD, EXPRESS or URGENT")
	addAPIFlags(cmd, &flags.API)
	if err := cmd.MarkFlagRequired("card-id"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("customer-id"); err != nil {
		panic(err)
	}
	return cmd
}

func createUpdateCommand(cli command) *cobra.Command {
	flags := &UpdateFlags{}
	cmd := &cobra.Command{
		Use:     "update",
		Aliases: []string{"advance"},
		Short:   "Advance a journey to a new stage",
		Long: `Advance a journey to a new stage.

Examples:
  cardflow update --card-id=CARD-1 --status=QUEUED
  cardflow update --card-id=CARD-1 --status=IN_TRANSIT --tracking=TRK-55 --location="Sydney depot"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Update(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.CardID, "card-id", "", "card id (required)")
	cmd.Flags().StringVar(&flags.Status, "status", "", "target stage (required)")
	cmd.Flags().StringVar(&flags.Source, "source", "operator", "update source")
	cmd.Flags().StringVar(&flags.Location, "location", "", "current location")
	cmd.Flags().StringVar(&flags.Tracking, "tracking", "", "tracking number")
	cmd.Flags().StringVar(&flags.Message, "message", "", "failure reason or note")
	addAPIFlags(cmd, &flags.API)
	if err := cmd.MarkFlagRequired("card-id"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("status"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(cli command) *cobra.Command {
	var cardID string
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show one journey with its event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Status(cardID, *api)
		},
	}
	cmd.Flags().StringVar(&cardID, "card-id", "", "card id (required)")
	addAPIFlags(cmd, api)
	if err := cmd.MarkFlagRequired("card-id"); err != nil {
		panic(err)
	}
	return cmd
}

func createSearchCommand(cli command) *cobra.Command {
	var q string
	var limit int
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search journeys by card id, customer id or name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Search(q, limit, *api)
		},
	}
	cmd.Flags().StringVar(&q, "query", "", "search text, at least 3 characters (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	addAPIFlags(cmd, api)
	if err := cmd.MarkFlagRequired("query"); err != nil {
		panic(err)
	}
	return cmd
}

func createDelayedCommand(cli command) *cobra.Command {
	var threshold time.Duration
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "delayed",
		Short: "List journeys stuck past the delay threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Delayed(threshold, *api)
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 0, "age threshold (server default when omitted)")
	addAPIFlags(cmd, api)
	return cmd
}

func createAnalyzeCommand(cli command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Trigger an immediate bottleneck analysis run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Analyze(*api)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createBottlenecksCommand(cli command) *cobra.Command {
	var limit int
	var severity string
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "bottlenecks",
		Short: "Show the latest bottleneck summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Bottlenecks(limit, severity, *api)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum summaries")
	cmd.Flags().StringVar(&severity, "severity", "", "filter: critical, high, medium or low")
	addAPIFlags(cmd, api)
	return cmd
}

func createDashboardCommand(cli command) *cobra.Command {
	var timeRange time.Duration
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the operational overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Dashboard(timeRange, *api)
		},
	}
	cmd.Flags().DurationVar(&timeRange, "range", 0, "trailing window (server default when omitted)")
	addAPIFlags(cmd, api)
	return cmd
}

func createInsightsCommand(cli command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Show the current operational insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Insights(*api)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}
