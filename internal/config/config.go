package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	AI         AI         `mapstructure:"ai"`
	Server     Server     `mapstructure:"server"`
	Store      Store      `mapstructure:"store"`
	Clustering Clustering `mapstructure:"clustering"`
	Privacy    Privacy    `mapstructure:"privacy"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// AI holds provider selection and per-provider configuration. Provider is
// "gemini" or "openai"; credentials come from the environment at process
// start and are never re-read per request.
type AI struct {
	Provider string       `mapstructure:"provider"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	MaxTokens      int32   `mapstructure:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature"`
	RequestsPerMin int     `mapstructure:"requests_per_min"`
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	BaseURL        string `mapstructure:"base_url"`
	RequestsPerMin int    `mapstructure:"requests_per_min"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Store holds content store configuration. Driver is "postgres", "sqlite"
// or "memory" (tests only).
type Store struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	DataDir string `mapstructure:"data_dir"`
}

// Clustering holds the unit clusterer hyperparameters.
type Clustering struct {
	MergeThreshold float64 `mapstructure:"merge_threshold"`
	MaxK           int     `mapstructure:"max_k"`
	MinSpawnBatch  int     `mapstructure:"min_spawn_batch"`
	MaxIterations  int     `mapstructure:"max_iterations"`
}

// Privacy holds the confusion aggregator guard settings.
type Privacy struct {
	LeakMinLen  int           `mapstructure:"leak_min_len"`
	WindowHours time.Duration `mapstructure:"window"`
}

var globalConfig *Config

// Load loads the configuration from .env, config file, environment
// variables and defaults, in ascending precedence.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".cogni")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the global configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.model", "gemini-1.5-flash")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.temperature", 0.7)
	viper.SetDefault("ai.gemini.requests_per_min", 60)
	viper.SetDefault("ai.openai.model", "gpt-4o-mini")
	viper.SetDefault("ai.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ai.openai.requests_per_min", 60)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})

	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.data_dir", ".cogni-data")

	viper.SetDefault("clustering.merge_threshold", 0.35)
	viper.SetDefault("clustering.max_k", 8)
	viper.SetDefault("clustering.min_spawn_batch", 3)
	viper.SetDefault("clustering.max_iterations", 100)

	viper.SetDefault("privacy.leak_min_len", 25)
	viper.SetDefault("privacy.window", "24h")
}

// bindEnvironmentVariables maps the environment variables recognized by the
// deployment (including the names the original service shipped with) onto
// viper keys.
func bindEnvironmentVariables() {
	bindEnvKeys("ai.provider", []string{"AI_PROVIDER"})
	bindEnvKeys("ai.gemini.api_key", []string{"GEMINI_API_KEY", "GOOGLE_AI_API_KEY"})
	bindEnvKeys("ai.gemini.model", []string{"GEMINI_MODEL"})
	bindEnvKeys("ai.openai.api_key", []string{"OPENAI_API_KEY"})
	bindEnvKeys("ai.openai.model", []string{"OPENAI_MODEL"})
	bindEnvKeys("ai.openai.base_url", []string{"OPENAI_BASE_URL"})
	bindEnvKeys("server.port", []string{"AI_SERVICE_PORT"})
	bindEnvKeys("store.driver", []string{"STORE_DRIVER"})
	bindEnvKeys("store.dsn", []string{"DATABASE_URL"})
	bindEnvKeys("store.data_dir", []string{"DATA_DIR"})
}

// bindEnvKeys binds multiple environment variable names to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if err := viper.BindEnv(viperKey, envKey); err != nil {
			fmt.Printf("Warning: failed to bind env var %s: %v\n", envKey, err)
		}
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	switch config.AI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("invalid ai.provider %q: must be \"gemini\" or \"openai\"", config.AI.Provider)
	}

	switch config.Store.Driver {
	case "postgres":
		if config.Store.DSN == "" {
			return fmt.Errorf("store.dsn (DATABASE_URL) is required for the postgres driver")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid store.driver %q: must be \"postgres\", \"sqlite\" or \"memory\"", config.Store.Driver)
	}

	if config.Clustering.MergeThreshold <= 0 || config.Clustering.MergeThreshold >= 1 {
		return fmt.Errorf("clustering.merge_threshold must be in (0, 1), got %v", config.Clustering.MergeThreshold)
	}
	if config.Clustering.MaxK < 1 {
		return fmt.Errorf("clustering.max_k must be at least 1, got %d", config.Clustering.MaxK)
	}
	if config.Privacy.LeakMinLen < 8 {
		return fmt.Errorf("privacy.leak_min_len must be at least 8, got %d", config.Privacy.LeakMinLen)
	}

	return nil
}

// Convenience accessors
func GetApp() App               { return Get().App }
func GetAI() AI                 { return Get().AI }
func GetServer() Server         { return Get().Server }
func GetStore() Store           { return Get().Store }
func GetClustering() Clustering { return Get().Clustering }
func GetPrivacy() Privacy       { return Get().Privacy }
