package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/nodewatch/pkg/clock"
	"github.com/cuemby/nodewatch/pkg/config"
	"github.com/cuemby/nodewatch/pkg/deploy"
	"github.com/cuemby/nodewatch/pkg/expirer"
	"github.com/cuemby/nodewatch/pkg/failer"
	"github.com/cuemby/nodewatch/pkg/health"
	"github.com/cuemby/nodewatch/pkg/jobcontrol"
	"github.com/cuemby/nodewatch/pkg/liveness"
	"github.com/cuemby/nodewatch/pkg/log"
	"github.com/cuemby/nodewatch/pkg/maintainer"
	"github.com/cuemby/nodewatch/pkg/metrics"
	"github.com/cuemby/nodewatch/pkg/orchestrator"
	"github.com/cuemby/nodewatch/pkg/repository"
	"github.com/cuemby/nodewatch/pkg/svcmonitor"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "nodewatch",
	Short:   "nodewatch - node-failure control loop for a cluster node repository",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"nodewatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the failer and expirer maintainers against the node repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		var cfg config.Config
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg = config.Default()
			err = cfg.Validate()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		clk := clock.New()

		repo, err := repository.NewBoltRepository(cfg.DataDir, clk)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer repo.Close()
		metrics.RegisterComponent("repository", true, "bolt repository open")

		livenessTracker := liveness.NewInMemoryTracker()
		serviceMonitor := svcmonitor.NewHTTPMonitor(health.DefaultConfig())
		orch := orchestrator.NewStaticOrchestrator()
		deployer := deploy.NewRollingDeployer(nil, nil)
		gate := jobcontrol.AlwaysOpen

		sched := maintainer.NewScheduler(gate)
		sched.Register(failer.New(repo, livenessTracker, serviceMonitor, orch, deployer, clk, failer.Config{
			Interval:            cfg.FailerInterval,
			DownTimeLimit:       cfg.DownTimeLimit,
			NodeRequestInterval: cfg.NodeRequestInterval,
			Throttle:            cfg.Throttle,
		}))
		sched.Register(expirer.New(repo, clk, expirer.Config{
			Interval:    cfg.ExpirerInterval,
			FailTimeout: cfg.FailTimeout,
			Environment: cfg.Environment,
		}))

		sched.Start()
		metrics.RegisterComponent("maintainer", true, "failer and expirer scheduled")
		fmt.Println("nodewatch maintainers started")

		serviceMonitor.Start()
		defer serviceMonitor.Stop()

		population := metrics.NewPopulationCollector(repo, nil)
		population.Start()
		defer population.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(cfg.BindAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		fmt.Printf("metrics endpoint: http://%s/metrics\n", cfg.BindAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("shutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}

		sched.Stop()
		fmt.Println("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file (defaults baked in if omitted)")
}
