package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zdav/internal/arr"
	"github.com/zzenonn/zdav/internal/config"
	"github.com/zzenonn/zdav/internal/library"
	"github.com/zzenonn/zdav/internal/logging"
	"github.com/zzenonn/zdav/internal/repository/db"
	"github.com/zzenonn/zdav/internal/repository/objectstore"
	"github.com/zzenonn/zdav/internal/server"
	"github.com/zzenonn/zdav/internal/service"
	"github.com/zzenonn/zdav/internal/telemetry"
	"github.com/zzenonn/zdav/internal/usenet"
)

var (
	cfg              *config.Config
	configPath       string
	dynamoDb         *db.DynamoDb
	itemRepository   *db.ItemRepository
	resultRepository *db.HealthCheckRepository
	locator          *library.Locator
)

var rootCmd = &cobra.Command{
	Use:   "zdav-server",
	Short: "Background health checks and HTTP streaming for segmented items",
	Long: "Runs the health check loop over every stored item and serves item streams, " +
		"manual checks, connection occupancy and metrics over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().String("log_level", "info", "log level (trace, debug, info, warn, error)")
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)

	dynamoDb, err = db.NewDatabase(cfg.AwsConfig, db.TableNames{
		Items:   cfg.DynamoDB.ItemsTable,
		Results: cfg.DynamoDB.ResultsTable,
	})
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}

	itemRepository = db.NewItemRepository(dynamoDb.Client, dynamoDb.Tables.Items)
	resultRepository = db.NewHealthCheckRepository(dynamoDb.Client, dynamoDb.Tables.Results)
	locator = library.NewLocator(cfg.LibraryDir, cfg.MountDir)
}

func serve(ctx context.Context) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := telemetry.Multi{telemetry.LogSink{}, telemetry.NewPrometheusSink(registry)}

	factory := objectstore.NewConnectionFactory(cfg.AwsConfig, cfg.GcsClient)
	streamingClient, err := usenet.NewStreamingClient(cfg.Providers, factory.Connect, sink, usenet.CacheOptions{
		Size:       cfg.Cache.Size,
		TTL:        cfg.Cache.TTL,
		Registerer: registry,
	})
	if err != nil {
		return fmt.Errorf("failed to configure providers: %w", err)
	}
	defer streamingClient.Close()

	log.WithFields(log.Fields{
		"providers":       len(cfg.Providers),
		"max_connections": cfg.MaxConnections(),
		"repair":          cfg.Repair.Enabled,
	}).Info("starting zdav server")

	healthService := service.NewHealthCheckService(
		itemRepository,
		resultRepository,
		streamingClient,
		locator,
		arrClients(cfg),
		sink,
		service.HealthCheckOptions{
			Enabled:              cfg.Repair.Enabled,
			MaxRepairConnections: cfg.Repair.MaxConnections,
			IdleDelay:            cfg.Repair.IdleDelay,
			ErrorDelay:           cfg.Repair.ErrorDelay,
			ProgressInterval:     cfg.Repair.ProgressInterval,
		},
	)
	healthService.Start(ctx)
	defer healthService.Stop()

	streamService := service.NewStreamService(itemRepository, streamingClient)
	srv := server.New(cfg.Server.ListenAddr, streamService, healthService, resultRepository, streamingClient, registry)
	return srv.Run(ctx)
}

func arrClients(cfg *config.Config) []arr.Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	var clients []arr.Client
	for _, instance := range cfg.Arr.Radarr {
		clients = append(clients, arr.NewRadarrClient(instance.Host, instance.APIKey, httpClient))
	}
	for _, instance := range cfg.Arr.Sonarr {
		clients = append(clients, arr.NewSonarrClient(instance.Host, instance.APIKey, httpClient))
	}
	return clients
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
