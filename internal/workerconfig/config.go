// Package workerconfig loads the worker daemon's configuration.
package workerconfig

import (
	"github.com/spf13/viper"
)

// Config holds all configuration for a worker process.
type Config struct {
	Dispatcher DispatcherLinkConfig `mapstructure:"dispatcher"`
	Upstream   UpstreamConfig       `mapstructure:"upstream"`
	Login      LoginConfig          `mapstructure:"login"`
	Client     ClientConfig         `mapstructure:"client"`
}

// DispatcherLinkConfig is where the dispatcher's worker-registry port lives.
type DispatcherLinkConfig struct {
	Address string `mapstructure:"address"`
}

// UpstreamConfig is the third-party game server the worker authenticates
// against over TLS.
type UpstreamConfig struct {
	GameServerAddress string `mapstructure:"game_server_address"`
	GameServerPort    int    `mapstructure:"game_server_port"`
	InsecureSkipTLS   bool   `mapstructure:"insecure_skip_tls_verify"`
}

// LoginConfig carries the login-queue/authToken HTTPS endpoints.
type LoginConfig struct {
	LoginServerAddress string `mapstructure:"login_server_address"`
	PollIntervalFloor  int    `mapstructure:"poll_interval_floor_ms"`
}

// ClientConfig carries the league client identity. Version is presented on
// login; Locale is not read, and the login invocation always sends pt_BR.
type ClientConfig struct {
	Version string `mapstructure:"version"`
	Locale  string `mapstructure:"locale"`
}

// Load reads configuration from a file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("worker")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/lolbuff")

	viper.SetEnvPrefix("LOLBUFF_WORKER")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("dispatcher.address", "127.0.0.1:1331")

	viper.SetDefault("upstream.game_server_address", "")
	viper.SetDefault("upstream.game_server_port", 2099)
	viper.SetDefault("upstream.insecure_skip_tls_verify", true)

	viper.SetDefault("login.login_server_address", "")
	viper.SetDefault("login.poll_interval_floor_ms", 250)

	viper.SetDefault("client.version", "")
	viper.SetDefault("client.locale", "pt_BR")
}
