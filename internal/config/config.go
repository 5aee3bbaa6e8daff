package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// SecretPrefix marks a value that names an SSM parameter instead of holding
// the secret itself.
const SecretPrefix = "ssm:"

// RepairConfig controls the background health check loop.
type RepairConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxConnections   int           `mapstructure:"max_connections"`
	IdleDelay        time.Duration `mapstructure:"idle_delay"`
	ErrorDelay       time.Duration `mapstructure:"error_delay"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// ArrInstance is one Radarr or Sonarr server.
type ArrInstance struct {
	Host   string `mapstructure:"host"`
	APIKey string `mapstructure:"api_key"`
}

type ArrConfig struct {
	Radarr []ArrInstance `mapstructure:"radarr"`
	Sonarr []ArrInstance `mapstructure:"sonarr"`
}

type DynamoDBConfig struct {
	ItemsTable   string `mapstructure:"items_table"`
	ResultsTable string `mapstructure:"results_table"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// Config holds the application configuration
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	// AwsConfig: AWS SDK uses a shared configuration object that contains
	// credentials, region, retry policies, etc. S3 providers, DynamoDB and
	// SSM are all created from this single config.
	AwsConfig aws.Config `mapstructure:"-"`
	// GcsClient: created on first use, only GCS-backed providers need it.
	GcsClient func(ctx context.Context) (*storage.Client, error) `mapstructure:"-"`

	Providers  []domain.ProviderConfig `mapstructure:"providers"`
	Repair     RepairConfig            `mapstructure:"repair"`
	LibraryDir string                  `mapstructure:"library_dir"`
	MountDir   string                  `mapstructure:"mount_dir"`
	Arr        ArrConfig               `mapstructure:"arr"`
	DynamoDB   DynamoDBConfig          `mapstructure:"dynamodb"`
	Server     ServerConfig            `mapstructure:"server"`
	Cache      CacheConfig             `mapstructure:"cache"`
}

// MaxConnections is the connection budget of the pooled providers.
func (c *Config) MaxConnections() int {
	total := 0
	for _, p := range c.Providers {
		if p.Enabled() && p.Type == domain.ProviderPooled {
			total += p.MaxConnections
		}
	}
	return total
}

// SSMAPI is the subset of the SSM client used to resolve secrets.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	awsConfig, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}

	cfg, err := decode(viper.GetViper())
	if err != nil {
		return nil, err
	}
	cfg.AwsConfig = awsConfig
	cfg.GcsClient = loadGCSClient()

	if needsSecrets(cfg) {
		if err := resolveSecrets(context.Background(), ssm.NewFromConfig(awsConfig), cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults(viper.GetViper())
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("repair.enabled", true)
	v.SetDefault("repair.max_connections", 1)
	v.SetDefault("repair.idle_delay", "1m")
	v.SetDefault("repair.error_delay", "1m")
	v.SetDefault("repair.progress_interval", "200ms")
	v.SetDefault("dynamodb.items_table", "items")
	v.SetDefault("dynamodb.results_table", "health_check_results")
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("cache.size", 8192)
	v.SetDefault("cache.ttl", "0s")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// an omitted type means pooled; the zero ProviderType is disabled
	raw, _ := v.Get("providers").([]any)
	for i, entry := range raw {
		fields, ok := entry.(map[string]any)
		if !ok || i >= len(cfg.Providers) {
			continue
		}
		if _, set := fields["type"]; !set {
			cfg.Providers[i].Type = domain.ProviderPooled
		}
	}

	for i, p := range cfg.Providers {
		if p.Name == "" {
			cfg.Providers[i].Name = fmt.Sprintf("provider-%d", i)
		}
		if p.Bucket == "" {
			return nil, fmt.Errorf("%w: providers[%d].bucket", zerrors.ErrMissingRequiredFields, i)
		}
	}
	if cfg.Repair.MaxConnections < 0 {
		return nil, fmt.Errorf("repair.max_connections must not be negative, got %d", cfg.Repair.MaxConnections)
	}
	return &cfg, nil
}

// loadAWSConfig loads AWS SDK configuration
func loadAWSConfig() (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %v", err)
	}
	return cfg, nil
}

// loadGCSClient returns a func creating the Google Cloud Storage client on
// its first call.
func loadGCSClient() func(ctx context.Context) (*storage.Client, error) {
	var (
		once   sync.Once
		client *storage.Client
		err    error
	)
	return func(ctx context.Context) (*storage.Client, error) {
		once.Do(func() {
			client, err = storage.NewClient(ctx)
			if err != nil {
				err = fmt.Errorf("unable to create GCS client: %v", err)
			}
		})
		return client, err
	}
}

func needsSecrets(cfg *Config) bool {
	found := false
	visitSecrets(cfg, func(value *string) {
		if strings.HasPrefix(*value, SecretPrefix) {
			found = true
		}
	})
	return found
}

func visitSecrets(cfg *Config, fn func(*string)) {
	for i := range cfg.Providers {
		fn(&cfg.Providers[i].AccessKey)
		fn(&cfg.Providers[i].SecretKey)
	}
	for i := range cfg.Arr.Radarr {
		fn(&cfg.Arr.Radarr[i].APIKey)
	}
	for i := range cfg.Arr.Sonarr {
		fn(&cfg.Arr.Sonarr[i].APIKey)
	}
}

// resolveSecrets replaces every ssm:<name> value with the decrypted
// parameter. Each parameter is fetched once.
func resolveSecrets(ctx context.Context, client SSMAPI, cfg *Config) error {
	resolved := make(map[string]string)
	var firstErr error

	visitSecrets(cfg, func(value *string) {
		if firstErr != nil || !strings.HasPrefix(*value, SecretPrefix) {
			return
		}
		name := strings.TrimPrefix(*value, SecretPrefix)
		if secret, ok := resolved[name]; ok {
			*value = secret
			return
		}

		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			firstErr = fmt.Errorf("failed to resolve secret %s: %w", name, err)
			return
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			firstErr = zerrors.ConfigNotSetError(name)
			return
		}
		resolved[name] = *out.Parameter.Value
		*value = *out.Parameter.Value
	})

	return firstErr
}

// SetConfigValue sets a configuration value (used for CLI flags)
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
