package internal

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "REDODB"

type Config struct {
	Storage struct {
		Workdir string `mapstructure:"workdir"`
	} `mapstructure:"storage"`

	BufferPool struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"bufferpool"`

	Txn struct {
		HardenerInterval time.Duration `mapstructure:"hardener_interval"`
		CloseTimeout     time.Duration `mapstructure:"close_timeout"`
		CommitMode       string        `mapstructure:"commit_mode"`
	} `mapstructure:"txn"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("bufferpool.capacity", 64)
	v.SetDefault("txn.hardener_interval", 10*time.Millisecond)
	v.SetDefault("txn.close_timeout", time.Second)
	v.SetDefault("txn.commit_mode", "safe")
	v.SetDefault("log.level", "info")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfig returns the built-in defaults with REDODB_* overrides applied.
func DefaultConfig() (*Config, error) {
	return unmarshal(newViper())
}

// LoadConfig reads a YAML file on top of the defaults. Environment variables
// such as REDODB_STORAGE_WORKDIR win over the file.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
