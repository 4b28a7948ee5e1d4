package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"appmarket/internal/domain"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"Server"`
	Database  DatabaseConfig  `mapstructure:"Database"`
	Storage   StorageConfig   `mapstructure:"Storage"`
	Bus       BusConfig       `mapstructure:"Bus"`
	Scan      ScanConfig      `mapstructure:"Scan"`
	Limits    LimitsConfig    `mapstructure:"Limits"`
	Worker    WorkerConfig    `mapstructure:"Worker"`
	Auth      AuthConfig      `mapstructure:"Auth"`
	Reconcile ReconcileConfig `mapstructure:"Reconcile"`
	Log       LogConfig       `mapstructure:"Log"`
}

type ServerConfig struct {
	Port string `mapstructure:"Port"`
	// Roles - какие части конвейера запускает процесс: api, validator, screenshots, coordinator, reconciler
	Roles           []string      `mapstructure:"Roles"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout"`
	MigrationsPath  string        `mapstructure:"MigrationsPath"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type StorageConfig struct {
	// Driver: s3 или minio
	Driver          string `mapstructure:"Driver"`
	Endpoint        string `mapstructure:"Endpoint"`
	Region          string `mapstructure:"Region"`
	AccessKeyID     string `mapstructure:"AccessKeyID"`
	SecretAccessKey string `mapstructure:"SecretAccessKey"`
	UseSSL          bool   `mapstructure:"UseSSL"`
	// Buckets сопоставляет зону с бакетом
	Buckets          map[string]string `mapstructure:"Buckets"`
	OperationTimeout time.Duration     `mapstructure:"OperationTimeout"`
	StreamTimeout    time.Duration     `mapstructure:"StreamTimeout"`
	CopyPollAttempts int               `mapstructure:"CopyPollAttempts"`
	CopyPollInterval time.Duration     `mapstructure:"CopyPollInterval"`
}

type BusConfig struct {
	Addr          string        `mapstructure:"Addr"`
	Password      string        `mapstructure:"Password"`
	DB            int           `mapstructure:"DB"`
	Partitions    int           `mapstructure:"Partitions"`
	Group         string        `mapstructure:"Group"`
	Consumer      string        `mapstructure:"Consumer"`
	BlockTimeout  time.Duration `mapstructure:"BlockTimeout"`
	RetryBackoff  time.Duration `mapstructure:"RetryBackoff"`
	ClaimMinIdle  time.Duration `mapstructure:"ClaimMinIdle"`
	MaxDeliveries int           `mapstructure:"MaxDeliveries"`
	MaxLen        int64         `mapstructure:"MaxLen"`
}

type ScanConfig struct {
	BaseURL           string        `mapstructure:"BaseURL"`
	APIKey            string        `mapstructure:"APIKey"`
	PollInterval      time.Duration `mapstructure:"PollInterval"`
	MaxPolls          int           `mapstructure:"MaxPolls"`
	RequestTimeout    time.Duration `mapstructure:"RequestTimeout"`
	RequestsPerMinute int           `mapstructure:"RequestsPerMinute"`
}

type LimitsConfig struct {
	MaxPackageSize         int64 `mapstructure:"MaxPackageSize"`
	MaxScreenshotSize      int64 `mapstructure:"MaxScreenshotSize"`
	MaxScreenshotDimension int   `mapstructure:"MaxScreenshotDimension"`
	ThumbnailMaxSide       int   `mapstructure:"ThumbnailMaxSide"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"Concurrency"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"JWTSecret"`
}

type ReconcileConfig struct {
	Schedule string `mapstructure:"Schedule"`
}

type LogConfig struct {
	Level string `mapstructure:"Level"`
	File  string `mapstructure:"File"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.Roles", []string{"api", "validator", "screenshots", "coordinator", "reconciler"})
	v.SetDefault("Server.ShutdownTimeout", 30*time.Second)
	v.SetDefault("Server.MigrationsPath", "file://migrations")

	v.SetDefault("Database.SSLMode", "disable")

	v.SetDefault("Storage.Driver", "s3")
	v.SetDefault("Storage.Endpoint", "https://storage.yandexcloud.net")
	v.SetDefault("Storage.Region", "ru-central1")
	v.SetDefault("Storage.UseSSL", true)
	v.SetDefault("Storage.Buckets", map[string]string{
		"quarantine": "appmarket-quarantine",
		"validated":  "appmarket-validated",
		"published":  "appmarket-published",
		"rejected":   "appmarket-rejected",
		"archived":   "appmarket-archived",
	})
	v.SetDefault("Storage.OperationTimeout", 30*time.Second)
	v.SetDefault("Storage.StreamTimeout", 10*time.Minute)
	v.SetDefault("Storage.CopyPollAttempts", 10)
	v.SetDefault("Storage.CopyPollInterval", 500*time.Millisecond)

	v.SetDefault("Bus.Addr", "localhost:6379")
	v.SetDefault("Bus.Partitions", 8)
	v.SetDefault("Bus.Group", "appmarket")
	v.SetDefault("Bus.BlockTimeout", 5*time.Second)
	v.SetDefault("Bus.RetryBackoff", 10*time.Second)
	v.SetDefault("Bus.MaxDeliveries", 10)
	v.SetDefault("Bus.MaxLen", 100000)

	v.SetDefault("Scan.PollInterval", 20*time.Second)
	v.SetDefault("Scan.MaxPolls", 15)
	v.SetDefault("Scan.RequestTimeout", 2*time.Minute)
	v.SetDefault("Scan.RequestsPerMinute", 4)

	v.SetDefault("Limits.MaxPackageSize", 500*1024*1024)
	v.SetDefault("Limits.MaxScreenshotSize", 8*1024*1024)
	v.SetDefault("Limits.MaxScreenshotDimension", 4096)
	v.SetDefault("Limits.ThumbnailMaxSide", 320)

	v.SetDefault("Worker.Concurrency", 4)

	v.SetDefault("Reconcile.Schedule", "@every 10m")

	v.SetDefault("Log.Level", "info")
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	}

	// Привязываем переменные окружения
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.Roles", "ROLES")
	v.BindEnv("Storage.Driver", "STORAGE_DRIVER")
	v.BindEnv("Storage.Endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("Storage.AccessKeyID", "STORAGE_ACCESS_KEY_ID")
	v.BindEnv("Storage.SecretAccessKey", "STORAGE_SECRET_ACCESS_KEY")
	v.BindEnv("Bus.Addr", "REDIS_ADDR")
	v.BindEnv("Bus.Password", "REDIS_PASSWORD")
	v.BindEnv("Bus.Consumer", "BUS_CONSUMER")
	v.BindEnv("Bus.ClaimMinIdle", "BUS_CLAIM_MIN_IDLE")
	v.BindEnv("Scan.BaseURL", "SCAN_BASE_URL")
	v.BindEnv("Scan.APIKey", "SCAN_API_KEY")
	v.BindEnv("Auth.JWTSecret", "JWT_SECRET")
	v.BindEnv("Log.Level", "LOG_LEVEL")
	v.BindEnv("Log.File", "LOG_FILE")

	// Читаем конфигурацию из файла
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			fmt.Printf("Warning: using only environment variables: %v\n", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// ROLES=api,coordinator приходит одной строкой
	if len(cfg.Server.Roles) == 1 && strings.Contains(cfg.Server.Roles[0], ",") {
		cfg.Server.Roles = strings.Split(cfg.Server.Roles[0], ",")
	}
	for i := range cfg.Server.Roles {
		cfg.Server.Roles[i] = strings.TrimSpace(cfg.Server.Roles[i])
	}

	// Чужое сообщение забираем, только когда его проверка точно не могла еще идти
	if cfg.Bus.ClaimMinIdle == 0 {
		cfg.Bus.ClaimMinIdle = cfg.ScanBudget() * 3 / 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет, что все необходимые поля заполнены
func (c *Config) Validate() error {
	if c.Database.Host == "" ||
		c.Database.Port == "" ||
		c.Database.User == "" ||
		c.Database.Password == "" ||
		c.Database.Name == "" {
		return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
	}

	for _, zone := range domain.Zones {
		if c.Storage.Buckets[string(zone)] == "" {
			return fmt.Errorf("storage bucket for zone %q is not configured", zone)
		}
	}
	for name := range c.Storage.Buckets {
		if !domain.Zone(name).Valid() {
			return fmt.Errorf("storage bucket configured for unknown zone %q", name)
		}
	}

	if c.Bus.Partitions <= 0 {
		return fmt.Errorf("bus partitions must be positive, got %d", c.Bus.Partitions)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}

	if c.HasRole("api") && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required for the api role")
	}
	if c.HasRole("validator") && c.Scan.BaseURL == "" {
		return fmt.Errorf("scan base URL is required for the validator role")
	}
	if c.HasRole("validator") && c.Bus.ClaimMinIdle <= c.ScanBudget() {
		return fmt.Errorf("bus claim min idle %s must exceed the worst-case scan time %s", c.Bus.ClaimMinIdle, c.ScanBudget())
	}

	return nil
}

// ScanBudget - худшая длительность одной проверки сканером: загрузка и MaxPolls
// опросов. Лимит запросов общий для Worker.Concurrency одновременных проверок,
// поэтому каждый запрос ждет не меньше своей доли лимита.
func (c *Config) ScanBudget() time.Duration {
	requests := time.Duration(c.Scan.MaxPolls + 1)
	spacing := c.Scan.PollInterval
	if c.Scan.RequestsPerMinute > 0 {
		shared := time.Minute * time.Duration(c.Worker.Concurrency) / time.Duration(c.Scan.RequestsPerMinute)
		if shared > spacing {
			spacing = shared
		}
	}
	return requests*spacing + c.Scan.RequestTimeout
}

func (c *Config) HasRole(role string) bool {
	for _, r := range c.Server.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL возвращает строку подключения для golang-migrate
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
