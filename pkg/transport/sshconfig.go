package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rshell/pkg/conf"
	"rshell/pkg/options"
)

// HostConfig is the subset of an OpenSSH client config block applied to options
type HostConfig struct {
	HostName      string
	Port          int
	User          string
	IdentityFiles []string
	Settings      map[string]string
}

// sessionKeys are the config keywords copied into Options.SessionConfig
var sessionKeys = map[string]string{
	"stricthostkeychecking":    conf.SSHConfigStrictHostKeyChecking,
	"preferredauthentications": conf.SSHConfigPreferredAuthentications,
	"serveraliveinterval":      conf.SSHConfigServerAliveInterval,
	"serveralivecountmax":      conf.SSHConfigServerAliveCountMax,
	"kexalgorithms":            conf.SSHConfigKexAlgorithms,
	"hostkeyalgorithms":        conf.SSHConfigHostKeyAlgorithms,
	"macs":                     conf.SSHConfigMACs,
}

// ApplyOpenSSHConfig resolves opts.Host through opts.OpenSSHConfig.
// Values from the file only fill settings left at their defaults.
func ApplyOpenSSHConfig(opts *options.Options) (*options.Options, error) {
	if opts.OpenSSHConfig == "" {
		return opts, nil
	}
	f, err := os.Open(opts.OpenSSHConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh config: %w", err)
	}
	defer func() { _ = f.Close() }()

	hc, pErr := LookupHost(f, opts.Host)
	if pErr != nil {
		return nil, fmt.Errorf("failed to parse ssh config %s: %w", opts.OpenSSHConfig, pErr)
	}

	out := opts.Clone()
	if hc.HostName != "" {
		out.Host = hc.HostName
	}
	if hc.Port > 0 && opts.Port == conf.DefaultPort {
		out.Port = hc.Port
	}
	if hc.User != "" && opts.Username == options.New().Username {
		out.Username = hc.User
	}
	if len(hc.IdentityFiles) > 0 {
		ids := make([]options.Identity, 0, len(hc.IdentityFiles)+len(out.Identities))
		for _, key := range hc.IdentityFiles {
			ids = append(ids, options.Identity{PrivateKey: key})
		}
		out.Identities = append(ids, out.Identities...)
	}
	for k, v := range hc.Settings {
		if _, set := out.SessionConfig[k]; !set {
			out.SessionConfig[k] = v
		}
	}
	return out, nil
}

// LookupHost collects the settings applying to host, the first value of a
// keyword winning as OpenSSH does
func LookupHost(r io.Reader, host string) (*HostConfig, error) {
	hc := &HostConfig{Settings: map[string]string{}}
	matching := true
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok := splitConfigLine(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "host":
			matching = matchHost(host, strings.Fields(value))
			continue
		case "match":
			// Match blocks are not evaluated
			matching = false
			continue
		}
		if !matching {
			continue
		}

		switch key {
		case "hostname":
			if hc.HostName == "" {
				hc.HostName = strings.ReplaceAll(value, "%h", host)
			}
		case "port":
			if hc.Port == 0 {
				port, err := strconv.Atoi(value)
				if err != nil || port <= 0 || port > 65535 {
					return nil, fmt.Errorf("line %d: invalid port %q", lineNo, value)
				}
				hc.Port = port
			}
		case "user":
			if hc.User == "" {
				hc.User = value
			}
		case "identityfile":
			hc.IdentityFiles = append(hc.IdentityFiles, expandHome(value))
		default:
			if name, known := sessionKeys[key]; known {
				if _, set := hc.Settings[name]; !set {
					hc.Settings[name] = value
				}
			}
		}
	}
	return hc, scanner.Err()
}

func splitConfigLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	idx := strings.IndexAny(line, " \t=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.ToLower(line[:idx])
	value = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line[idx:]), "="))
	value = strings.Trim(value, "\"")
	return key, value, value != ""
}

func matchHost(host string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		ok, err := filepath.Match(p, host)
		if err != nil || !ok {
			continue
		}
		if negate {
			return false
		}
		matched = true
	}
	return matched
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
