// Package config provides a reusable loader for the agent's configuration
// file and environment variable overrides, mirroring the teacher's
// pkg/config.Load(env) shape (Viper, AutomaticEnv, a typed struct with
// mapstructure tags) but scoped to a single mixing agent instead of a full
// blockchain node.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// Config is the unified configuration for one agent process.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Network struct {
		ID             string   `mapstructure:"id"`
		DHTPort        int      `mapstructure:"dht_port"`
		HTTPPort       int      `mapstructure:"http_port"`
		BeaconPort     int      `mapstructure:"beacon_port"`
		PublicHost     string   `mapstructure:"public_host"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers"`
		Production     bool     `mapstructure:"production"`
	} `mapstructure:"network"`

	Chain struct {
		RPCEndpoint string        `mapstructure:"rpc_endpoint"`
		CallTimeout time.Duration `mapstructure:"call_timeout"`
	} `mapstructure:"chain"`

	Prover struct {
		Endpoint    string        `mapstructure:"endpoint"`
		CallTimeout time.Duration `mapstructure:"call_timeout"`
	} `mapstructure:"prover"`

	Relayer struct {
		MinDelay    time.Duration `mapstructure:"min_delay"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
		Fee         uint64        `mapstructure:"fee"`
		RateLimit   int           `mapstructure:"rate_limit"`
		RateWindow  time.Duration `mapstructure:"rate_window"`
		MaxBodyByte int64         `mapstructure:"max_body_bytes"`
	} `mapstructure:"relayer"`

	Mixer struct {
		WithdrawMinDelay time.Duration `mapstructure:"withdraw_min_delay"`
		WithdrawMaxDelay time.Duration `mapstructure:"withdraw_max_delay"`
		DepositMinDelay  time.Duration `mapstructure:"deposit_min_delay"`
		DepositMaxDelay  time.Duration `mapstructure:"deposit_max_delay"`
		CooldownOnError  time.Duration `mapstructure:"cooldown_on_error"`
	} `mapstructure:"mixer"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Default returns the configuration baked in when no file is supplied,
// matching the concrete constants named throughout spec.md.
func Default() Config {
	var c Config
	c.DataDir = "~/.mixagent"
	c.Network.ID = "mixer-agent-mainnet-v1"
	c.Network.DHTPort = 8549
	c.Network.HTTPPort = 8550
	c.Network.BeaconPort = 8548
	c.Chain.CallTimeout = 10 * time.Second
	c.Prover.CallTimeout = 30 * time.Second
	c.Relayer.MinDelay = 1 * time.Minute
	c.Relayer.MaxDelay = 15 * time.Minute
	c.Relayer.RateLimit = 10
	c.Relayer.RateWindow = 60 * time.Second
	c.Relayer.MaxBodyByte = 1 << 20
	c.Mixer.WithdrawMinDelay = 2 * time.Minute
	c.Mixer.WithdrawMaxDelay = 10 * time.Minute
	c.Mixer.DepositMinDelay = 2 * time.Minute
	c.Mixer.DepositMaxDelay = 10 * time.Minute
	c.Mixer.CooldownOnError = 60 * time.Second
	c.Logging.Level = "info"
	return c
}

// Load reads a .env file if one is present in the working directory,
// mirroring the teacher's walletserver/config.Load godotenv.Load call
// (here optional: this agent has no mandatory dotenv file, unlike the
// wallet server, so a missing file is not an error), then the YAML file
// at path (if non-empty) over the defaults, then applies MIXAGENT_-
// prefixed environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.IoDisk, "config.Load", fmt.Errorf("loading .env: %w", err))
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MIXAGENT")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(errs.IoDisk, "config.Load", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.Integrity, "config.Load", fmt.Errorf("unmarshal: %w", err))
	}
	return &cfg, nil
}
