package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/inferoute/inferoute/internal/server"
	"github.com/spf13/viper"
)

// Version information set during build.
var (
	version   = "dev"
	commitSHA = "unknown"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("inferoute version %s\n", version)
		fmt.Printf("Commit: %s\n", commitSHA)
		fmt.Printf("Built: %s\n", buildTime)
		os.Exit(0)
	}

	config, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	srv.WaitForShutdown()
}

// loadConfig loads configuration from file and environment variables.
func loadConfig(configFile string) (*server.Config, error) {
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("INFEROUTE")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		fmt.Println("Config file not found, using defaults")
	}

	var config server.Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)

	viper.SetDefault("default_environment", "production")

	viper.SetDefault("router.attempt_timeout", 30*time.Second)
	viper.SetDefault("router.latency_alpha", 0.1)
	viper.SetDefault("router.scoring.cost_ceiling", 0.05)
	viper.SetDefault("router.scoring.latency_reference", 500*time.Millisecond)

	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.ttl", 1*time.Hour)
	viper.SetDefault("cache.max_size", 1000)

	viper.SetDefault("observability.logging.level", "info")
	viper.SetDefault("observability.logging.format", "json")
	viper.SetDefault("observability.logging.development", false)

	viper.SetDefault("observability.metrics.enabled", true)
	viper.SetDefault("observability.metrics.port", 9090)
	viper.SetDefault("observability.metrics.path", "/metrics")

	viper.SetDefault("observability.tracing.enabled", false)
	viper.SetDefault("observability.tracing.service_name", "inferoute")
}
