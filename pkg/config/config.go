// Package config provides a reusable loader for BrightChain configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Digital-Defiance/brightchain-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a BrightChain node. Load
// fills it from optional YAML files under cmd/config or config; this module
// ships none, so Default supplies every value.
type Config struct {
	Block struct {
		MessageSize int    `mapstructure:"message_size" json:"message_size"`
		TinySize    int    `mapstructure:"tiny_size" json:"tiny_size"`
		SmallSize   int    `mapstructure:"small_size" json:"small_size"`
		MediumSize  int    `mapstructure:"medium_size" json:"medium_size"`
		LargeSize   int    `mapstructure:"large_size" json:"large_size"`
		HugeSize    int    `mapstructure:"huge_size" json:"huge_size"`
		Default     string `mapstructure:"default" json:"default"`
	} `mapstructure:"block" json:"block"`

	Whitening struct {
		TupleMinSize   int `mapstructure:"tuple_min_size" json:"tuple_min_size"`
		TupleMaxSize   int `mapstructure:"tuple_max_size" json:"tuple_max_size"`
		DefaultTuple   int `mapstructure:"default_tuple_size" json:"default_tuple_size"`
	} `mapstructure:"whitening" json:"whitening"`

	Durability struct {
		Default              string `mapstructure:"default" json:"default"`
		HighDurabilityParity int    `mapstructure:"high_durability_parity" json:"high_durability_parity"`
	} `mapstructure:"durability" json:"durability"`

	Messaging struct {
		NodeID             string `mapstructure:"node_id" json:"node_id"`
		MaxReferencesCount int    `mapstructure:"max_references_count" json:"max_references_count"`
		DeliveryTimeoutMs  int64  `mapstructure:"delivery_timeout_ms" json:"delivery_timeout_ms"`
	} `mapstructure:"messaging" json:"messaging"`

	Identity struct {
		IDSize int `mapstructure:"id_size" json:"id_size"`
	} `mapstructure:"identity" json:"identity"`

	Crypto struct {
		MaxRecipients int    `mapstructure:"max_recipients" json:"max_recipients"`
		KeyringPath   string `mapstructure:"keyring_path" json:"keyring_path"`
		MaxAccessRate int    `mapstructure:"max_access_rate" json:"max_access_rate"`
	} `mapstructure:"crypto" json:"crypto"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
	} `mapstructure:"network" json:"network"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Default returns a Config populated with the deployment defaults assumed
// throughout the core packages when no configuration file is present.
func Default() Config {
	var c Config
	c.Block.MessageSize = 512
	c.Block.TinySize = 1024
	c.Block.SmallSize = 4096
	c.Block.MediumSize = 1 << 20
	c.Block.LargeSize = 16 << 20
	c.Block.HugeSize = 256 << 20
	c.Block.Default = "Small"

	c.Whitening.TupleMinSize = 3
	c.Whitening.TupleMaxSize = 5
	c.Whitening.DefaultTuple = 3

	c.Durability.Default = "ephemeral"
	c.Durability.HighDurabilityParity = 2

	c.Messaging.NodeID = "brightchain.local"
	c.Messaging.MaxReferencesCount = 20
	c.Messaging.DeliveryTimeoutMs = 24 * 60 * 60 * 1000

	c.Identity.IDSize = 16

	c.Crypto.MaxRecipients = 256
	c.Crypto.KeyringPath = utils.EnvOrDefault("KEYRING_PATH", "brightchain_keyring.json")
	c.Crypto.MaxAccessRate = 60

	c.Network.ListenAddr = "/ip4/0.0.0.0/tcp/0"
	c.Network.DiscoveryTag = "brightchain-mdns"
	c.Network.MaxPeers = 64

	c.Logging.Level = "info"
	return c
}

// Load reads configuration files and merges any environment specific
// overrides on top of the built-in defaults. The resulting configuration is
// stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	AppConfig = Default()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the BRIGHTCHAIN_ENV environment
// variable to select an overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("BRIGHTCHAIN_ENV", ""))
}
