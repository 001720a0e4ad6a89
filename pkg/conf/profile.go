package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ProfilesFileName is looked up under GetHome when no path is given
const ProfilesFileName = "profiles.yaml"

// Profile is a named set of connection settings
type Profile struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port,omitempty"`
	User           string            `yaml:"user,omitempty"`
	Password       string            `yaml:"password,omitempty"`
	Passphrase     string            `yaml:"passphrase,omitempty"`
	Identities     []ProfileIdentity `yaml:"identities,omitempty"`
	KnownHosts     string            `yaml:"known_hosts,omitempty"`
	SSHConfig      string            `yaml:"ssh_config,omitempty"`
	Timeout        time.Duration     `yaml:"timeout,omitempty"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout,omitempty"`
	Charset        string            `yaml:"charset,omitempty"`
	Prompt         string            `yaml:"prompt,omitempty"`
	Proxy          string            `yaml:"proxy,omitempty"`
	ExecPty        bool              `yaml:"exec_pty,omitempty"`
	UseAgent       bool              `yaml:"use_agent,omitempty"`
	SessionConfig  map[string]string `yaml:"session_config,omitempty"`
}

// ProfileIdentity is a private key with an optional passphrase
type ProfileIdentity struct {
	Key        string `yaml:"key"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// Profiles maps profile names to settings
type Profiles map[string]Profile

// LoadProfiles reads a YAML profiles file. A missing default file yields an empty set.
func LoadProfiles(path string) (Profiles, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(GetHome(), ProfilesFileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return Profiles{}, nil
		}
		return nil, fmt.Errorf("failed to read profiles %q: %w", path, err)
	}
	profiles := Profiles{}
	if uErr := yaml.Unmarshal(data, &profiles); uErr != nil {
		return nil, fmt.Errorf("failed to parse profiles %q: %w", path, uErr)
	}
	return profiles, nil
}

// Get returns the named profile
func (p Profiles) Get(name string) (Profile, error) {
	profile, ok := p[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return profile, nil
}
