// Package dispatcherconfig loads the dispatcher daemon's configuration.
package dispatcherconfig

import (
	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatcher daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Ops        OpsConfig        `mapstructure:"ops"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Credential CredentialConfig `mapstructure:"credentials"`
}

// ServerConfig holds the two core listener addresses.
type ServerConfig struct {
	APIHost    string `mapstructure:"api_host"`
	APIPort    int    `mapstructure:"api_port"`
	WorkerHost string `mapstructure:"worker_host"`
	WorkerPort int    `mapstructure:"worker_port"`
}

// DispatchConfig holds task-dispatch tuning knobs.
type DispatchConfig struct {
	TaskDeadlineMs  int `mapstructure:"task_deadline_ms"`
	MaxListIDs      int `mapstructure:"max_list_ids"`
	MaxRecordBytes  int `mapstructure:"max_record_bytes"`
	WriteChunkBytes int `mapstructure:"write_chunk_bytes"`
}

// OpsConfig holds the operator-facing HTTP surface configuration.
type OpsConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MongoDBConfig holds MongoDB connection configuration for the audit log.
type MongoDBConfig struct {
	URI       string `mapstructure:"uri"`
	Database  string `mapstructure:"database"`
	AuditColl string `mapstructure:"audit_collection"`
	Enabled   bool   `mapstructure:"enabled"`
}

// RedisConfig holds Redis connection configuration for the presence mirror.
type RedisConfig struct {
	URI     string `mapstructure:"uri"`
	Enabled bool   `mapstructure:"enabled"`
}

// JWTConfig holds JWT configuration guarding the ops surface's mutating routes.
type JWTConfig struct {
	Secret     string `mapstructure:"secret"`
	Expiration int    `mapstructure:"expiration"` // in hours
}

// CredentialConfig describes the fixed-size pool of upstream account
// credentials leased to workers on subscribe.
type CredentialConfig struct {
	Pairs []CredentialPair `mapstructure:"pairs"`
}

// CredentialPair is a single (username, password) leaseable to a worker.
type CredentialPair struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load reads configuration from a file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("dispatcher")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/lolbuff")

	viper.SetEnvPrefix("LOLBUFF")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found; environment and defaults carry the load.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if len(config.Credential.Pairs) == 0 {
		config.Credential.Pairs = []CredentialPair{{Username: "ACCOUNT_NAME", Password: "ACCOUNT_PASSWORD"}}
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.api_host", "0.0.0.0")
	viper.SetDefault("server.api_port", 9876)
	viper.SetDefault("server.worker_host", "0.0.0.0")
	viper.SetDefault("server.worker_port", 1331)

	viper.SetDefault("dispatch.task_deadline_ms", 1500)
	viper.SetDefault("dispatch.max_list_ids", 30)
	viper.SetDefault("dispatch.max_record_bytes", 1024)
	viper.SetDefault("dispatch.write_chunk_bytes", 1408)

	viper.SetDefault("ops.host", "0.0.0.0")
	viper.SetDefault("ops.port", 9877)

	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "lolbuff")
	viper.SetDefault("mongodb.audit_collection", "task_audit")
	viper.SetDefault("mongodb.enabled", false)

	viper.SetDefault("redis.uri", "localhost:6379")
	viper.SetDefault("redis.enabled", false)

	viper.SetDefault("jwt.secret", "replace-with-secure-secret")
	viper.SetDefault("jwt.expiration", 24)
}
