package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ClientEnvPrefix = "CARBONTRAIL"

	BaseURLKey  = "baseUrl"
	SiteURLKey  = "siteUrl"
	TimeoutKey  = "timeout"
	KeyringKey  = "keyringService"
	LogLevelKey = "logLevel"
)

// ClientConfig configures carbonctl. Values come from (lowest to highest)
// defaults, carbontrail.yaml in the working directory or the --config file,
// CARBONTRAIL_* environment variables and bound command flags.
type ClientConfig struct {
	BaseURL        string        `mapstructure:"baseUrl"`
	SiteURL        string        `mapstructure:"siteUrl"`
	Timeout        time.Duration `mapstructure:"timeout"`
	KeyringService string        `mapstructure:"keyringService"`
	LogLevel       string        `mapstructure:"logLevel"`

	v *viper.Viper
}

// LoadClientConfig creates a ClientConfig backed by its own viper instance.
func LoadClientConfig(cfgFile string) (*ClientConfig, error) {
	v := viper.New()

	v.SetEnvPrefix(ClientEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(BaseURLKey, "http://localhost:5001")
	v.SetDefault(SiteURLKey, "http://localhost:3000")
	v.SetDefault(TimeoutKey, "15s")
	v.SetDefault(KeyringKey, "carbontrail")
	v.SetDefault(LogLevelKey, "warn")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		for _, name := range []string{"carbontrail.yaml", "carbontrail.yml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}
	}

	cfg := &ClientConfig{v: v}
	cfg.refresh()
	return cfg, nil
}

// Viper exposes the backing instance so commands can bind their flags.
func (c *ClientConfig) Viper() *viper.Viper {
	return c.v
}

// Reload re-reads values after flags were bound.
func (c *ClientConfig) Reload() {
	c.refresh()
}

func (c *ClientConfig) refresh() {
	c.BaseURL = strings.TrimRight(c.v.GetString(BaseURLKey), "/")
	c.SiteURL = strings.TrimRight(c.v.GetString(SiteURLKey), "/")
	c.Timeout = c.v.GetDuration(TimeoutKey)
	c.KeyringService = c.v.GetString(KeyringKey)
	c.LogLevel = c.v.GetString(LogLevelKey)
}
