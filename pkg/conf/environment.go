package conf

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Env
const EnvPrefix = "RSHELL"

// Env holds connection defaults read from RSHELL_* environment variables
type Env struct {
	Host           string        `envconfig:"HOST" default:"localhost"`
	Port           int           `envconfig:"PORT" default:"22"`
	User           string        `envconfig:"USER"`
	Password       string        `envconfig:"PASSWORD"`
	Passphrase     string        `envconfig:"PASSPHRASE"`
	Identity       []string      `envconfig:"IDENTITY"`
	KnownHosts     string        `envconfig:"KNOWN_HOSTS"`
	SSHConfig      string        `envconfig:"SSH_CONFIG"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"0s"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	Charset        string        `envconfig:"CHARSET" default:"ISO-8859-15"`
	Proxy          string        `envconfig:"PROXY"`
	UseAgent       bool          `envconfig:"USE_AGENT"`
	Profiles       string        `envconfig:"PROFILES"`
	Verbose        string        `envconfig:"VERBOSE" default:"info"`
}

// LoadEnv processes RSHELL_* variables into an Env
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &env, nil
}
