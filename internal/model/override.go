package model

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// SIDECAR_HANDSHAKE_URL overrides handshake.url.
const EnvPrefix = "SIDECAR"

// overrideKeys are the config keys which can be overridden from the
// environment or from bound command line flags.
var overrideKeys = []string{
	"app.identifier",
	"app.data_dir",
	"sidecar.name",
	"sidecar.ready_timeout",
	"handshake.url",
	"handshake.timeout",
	"service.verbose",
	"service.log",
	"service.journal",
}

// NewViper returns a viper instance bound to the override environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overrideKeys {
		// BindEnv only errors on an empty key list
		_ = v.BindEnv(key)
	}
	return v
}

// ApplyOverrides copies every key set in v over the loaded config.
// Duration values are validated the same way the schema does.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("app.identifier", &c.App.Identifier)
	str("app.data_dir", &c.App.DataDir)
	str("sidecar.name", &c.Sidecar.Name)
	str("sidecar.ready_timeout", &c.Sidecar.ReadyTimeout)
	str("handshake.url", &c.Handshake.URL)
	str("handshake.timeout", &c.Handshake.Timeout)
	str("service.log", &c.Service.Log)
	str("service.journal", &c.Service.Journal)
	if v.IsSet("service.verbose") {
		c.Service.Verbose = v.GetBool("service.verbose")
	}

	if c.Sidecar.Name == "" {
		return fmt.Errorf("sidecar.name: must not be empty")
	}
	if _, err := c.Sidecar.ReadyTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Handshake.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}
