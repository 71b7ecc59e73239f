// config/config.go
package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Configuration stores all the configurations
type Configuration struct {
	Server        ServerConfiguration
	Redis         RedisConfiguration
	Elasticsearch ElasticsearchConfiguration
	Authz         AuthzConfiguration
}

// ServerConfiguration stores the port and other web server settings
type ServerConfiguration struct {
	Port string
}

// RedisConfiguration stores data for Redis connection
type RedisConfiguration struct {
	Addr     string
	Password string
	DB       int
}

// ElasticsearchConfiguration stores data for Elasticsearch connection
type ElasticsearchConfiguration struct {
	URL string
}

// AuthzConfiguration stores the policy engine knobs
type AuthzConfiguration struct {
	PermissionCacheTTL time.Duration
	OwnershipCacheTTL  time.Duration
	SweepInterval      time.Duration
	AdminRole          string
	FailureMaxAttempts int
	FailureWindow      time.Duration
}

var config *Configuration

func InitConfig() error {
	viper.AddConfigPath("config") // path to look for the config file in
	viper.SetConfigName("config") // name of the config file (without extension)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv() // read in environment variables that match

	// Set default configurations
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("elasticsearch.url", "http://localhost:9200")
	viper.SetDefault("authz.permissionCacheTTL", "5m")
	viper.SetDefault("authz.ownershipCacheTTL", "5m")
	viper.SetDefault("authz.ownershipCacheSize", 4096)
	viper.SetDefault("authz.sweepInterval", "60s")
	viper.SetDefault("authz.adminRole", "admin")
	viper.SetDefault("authz.failureMaxAttempts", 5)
	viper.SetDefault("authz.failureWindow", "60s")
	viper.SetDefault("log.dir", "logging")
	viper.SetDefault("audit.useElasticsearch", false)
	viper.SetDefault("auth.jwtSecret", "dev-secret-change-me")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found. Using default settings and environment variables.")
		} else {
			return err
		}
	}

	// Unmarshal the configuration into the Configuration struct
	err := viper.Unmarshal(&config)
	if err != nil {
		return err
	}

	return nil
}

// GetConfig returns the loaded configuration
func GetConfig() *Configuration {
	return config
}

// GetString retrieves a string value from the configuration
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt retrieves an integer value from the configuration
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool retrieves a boolean value from the configuration
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration retrieves a duration value from the configuration
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
