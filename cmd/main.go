package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zdav/internal/arr"
	"github.com/zzenonn/zdav/internal/config"
	"github.com/zzenonn/zdav/internal/library"
	"github.com/zzenonn/zdav/internal/logging"
	"github.com/zzenonn/zdav/internal/repository/db"
	"github.com/zzenonn/zdav/internal/repository/objectstore"
	"github.com/zzenonn/zdav/internal/service"
	"github.com/zzenonn/zdav/internal/usenet"
)

var (
	cfg             *config.Config
	configPath      string
	dynamoDb        *db.DynamoDb
	itemRepository  *db.ItemRepository
	connFactory     *objectstore.ConnectionFactory
	streamingClient *usenet.StreamingClient
	streamService   *service.StreamService
)

var rootCmd = &cobra.Command{
	Use:   "zdav",
	Short: "CLI for segmented items stored across object storage providers",
	Long:  "A CLI application built with Cobra for posting, streaming and health checking segmented items",
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().String("log_level", "info", "log level (trace, debug, info, warn, error)")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize and migrate the database",
	Run: func(cmd *cobra.Command, args []string) {
		if err := dynamoDb.MigrateDb(context.Background()); err != nil {
			fmt.Printf("Failed to migrate the database: %v\n", err)
			return
		}

		fmt.Println("Database initialized and migrated successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		if err := dynamoDb.MigrateDown(context.Background()); err != nil {
			fmt.Printf("Failed to roll back migrations: %v\n", err)
			return
		}

		fmt.Println("Database migrations rolled back successfully")
	},
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)

	// Initialize database connection only
	dynamoDb, err = db.NewDatabase(cfg.AwsConfig, db.TableNames{
		Items:   cfg.DynamoDB.ItemsTable,
		Results: cfg.DynamoDB.ResultsTable,
	})
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}

	// Initialize services
	itemRepository = db.NewItemRepository(dynamoDb.Client, dynamoDb.Tables.Items)

	connFactory = objectstore.NewConnectionFactory(cfg.AwsConfig, cfg.GcsClient)
	streamingClient, err = usenet.NewStreamingClient(cfg.Providers, connFactory.Connect, nil, usenet.CacheOptions{
		Size: cfg.Cache.Size,
		TTL:  cfg.Cache.TTL,
	})
	if err != nil {
		log.Fatalf("Failed to configure providers: %v", err)
	}
	streamService = service.NewStreamService(itemRepository, streamingClient)
}

// arrClients builds a client for every configured Radarr and Sonarr instance.
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

func newLocator(cfg *config.Config) *library.Locator {
	return library.NewLocator(cfg.LibraryDir, cfg.MountDir)
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(downCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if streamingClient != nil {
		streamingClient.Close()
	}
}
