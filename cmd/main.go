// File: main.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxy-pool/pkg/api"
	"proxy-pool/pkg/config"
	"proxy-pool/pkg/database"
	"proxy-pool/pkg/ingest"
	"proxy-pool/pkg/ipinfo"
	"proxy-pool/pkg/models"
	"proxy-pool/pkg/parser"
	"proxy-pool/pkg/pipeline"
	"proxy-pool/pkg/source"
	"proxy-pool/pkg/sweeper"
	"proxy-pool/pkg/validator"
)

var (
	debugFlag bool
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "proxy-pool",
	Short: "A self-maintaining pool of validated forward proxies",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool: ingestion, validation, eviction and the HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		db, err := initDB()
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		sources, err := source.FromConfigs(cfg.Sources, logger)
		if err != nil {
			logger.Error("Error building sources", "error", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prober := validator.New(cfg.Check, logger)
		pipe := pipeline.New(db, prober, pipeline.Options{
			CheckInterval: cfg.CheckInterval(),
			CheckTimeout:  cfg.CheckTimeout(),
			Concurrency:   cfg.Check.Concurrency,
			FailLimit:     cfg.Check.FailLimit,
		}, logger)

		if ipinfo.Enabled() {
			pipe.OnFirstSuccess(func(ctx context.Context, proxy *models.Proxy) {
				info, err := ipinfo.Lookup(ctx, proxy.Host)
				if err != nil {
					logger.Debug("IP info lookup failed", "host", proxy.Host, "error", err)
					return
				}
				ipinfo.UpdateProxy(proxy, info)
				if err := db.UpdateProxyInfo(ctx, proxy.ID, proxy.Country, proxy.ASOrg); err != nil {
					logger.Warn("Failed to store IP info", "id", proxy.ID, "error", err)
				}
			})
		}

		loop := ingest.New(db, sources, ingest.Options{
			Interval:      cfg.FetchInterval(),
			TriggerCount:  cfg.Fetch.TriggerCount,
			FailLimit:     cfg.Check.FailLimit,
			CheckInterval: cfg.CheckInterval(),
		}, logger)

		sweep := sweeper.New(db, sweeper.Options{
			Interval:  cfg.SweepInterval(),
			TTL:       cfg.ProxyTTL(),
			FailLimit: cfg.Check.FailLimit,
		}, logger)

		apiServer := api.New(db, api.Options{
			Listen:        cfg.Server.Listen,
			FailLimit:     cfg.Check.FailLimit,
			CheckInterval: cfg.CheckInterval(),
		}, logger)

		logger.Info("Starting proxy pool",
			"listen", cfg.Server.Listen,
			"sources", len(sources),
			"concurrency", cfg.Check.Concurrency)

		var wg sync.WaitGroup
		runPart := func(name string, run func(context.Context) error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := run(ctx); err != nil {
					logger.Error("Component stopped with error", "component", name, "error", err)
					stop()
				}
			}()
		}

		runPart("pipeline", pipe.Run)
		runPart("ingest", loop.Run)
		runPart("sweeper", sweep.Run)
		runPart("api", apiServer.Run)

		<-ctx.Done()
		logger.Info("Shutting down")
		wg.Wait()
		logger.Info("Shutdown complete")
	},
}

var addProxiesCmd = &cobra.Command{
	Use:   "add-proxies [file] [source]",
	Short: "Add proxies from a host:port file to the pool and tag them with a source name",
	Args:  cobra.RangeArgs(1, 2), // Allow 1-2 arguments
	Run: func(cmd *cobra.Command, args []string) {
		db, err := initDB()
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		// Default source name to the file name if not provided
		sourceName := args[0]
		if len(args) > 1 {
			sourceName = args[1]
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			logger.Error("Error reading file", "error", err)
			os.Exit(1)
		}

		proxies := parser.ParseText(sourceName, string(data))
		added := 0
		for i := range proxies {
			inserted, err := db.InsertProxyIfAbsent(context.Background(), &proxies[i])
			if err != nil {
				logger.Error("Error adding proxy", "host", proxies[i].Host, "error", err)
				os.Exit(1)
			}
			if inserted {
				added++
			}
		}
		logger.Info("Proxies added successfully", "parsed", len(proxies), "new", added)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pool counters",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		db, err := initDB()
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		ctx := context.Background()
		filter := models.DefaultFilter(cfg.Check.FailLimit)

		available, err := db.CountAvailable(ctx, filter)
		if err != nil {
			logger.Error("Error counting proxies", "error", err)
			os.Exit(1)
		}
		checking, err := db.CountChecking(ctx)
		if err != nil {
			logger.Error("Error counting proxies", "error", err)
			os.Exit(1)
		}
		due, err := db.CountDue(ctx, cfg.CheckInterval(), cfg.Check.FailLimit)
		if err != nil {
			logger.Error("Error counting proxies", "error", err)
			os.Exit(1)
		}
		total, err := db.CountTotal(ctx)
		if err != nil {
			logger.Error("Error counting proxies", "error", err)
			os.Exit(1)
		}

		fmt.Printf("available: %d\nchecking: %d\ndue: %d\ntotal: %d\n",
			available, checking, due, total)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addProxiesCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("$HOME/.proxy-pool")
	viper.AddConfigPath("/etc/proxy-pool/")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		os.Exit(1)
	}
}

func initDB() (*database.DB, error) {
	db, err := database.NewDB()
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}

	err = db.InitSchema(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
