package cmd

import (
	"fmt"
	"os"
	"time"

	"rshell/pkg/conf"
	"rshell/pkg/escseq"
	"rshell/pkg/options"
	"rshell/pkg/remote"
	"rshell/pkg/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// Connection flags
var (
	user           string
	password       string
	port           int
	identities     []string
	timeout        time.Duration
	connectTimeout time.Duration
	knownHosts     string
	sshConfig      string
	proxy          string
	prompt         string
	charset        string
	useAgent       bool
	execPty        bool
)

func addConnectionFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&user, "user", "u", "", "Remote user, defaults to the current user")
	fs.StringVar(&password, "password", "", "Password, prompted when missing and stdin is a terminal")
	fs.IntVarP(&port, "port", "p", conf.DefaultPort, "Remote SSH port")
	fs.StringSliceVarP(&identities, "identity", "i", nil, "Private key files, replaces the defaults")
	fs.DurationVar(&timeout, "timeout", 0, "Command timeout, 0 waits forever")
	fs.DurationVar(&connectTimeout, "connect-timeout", conf.ConnectTimeout, "Connection timeout")
	fs.StringVar(&knownHosts, "known-hosts", "", "known_hosts file, unknown keys are added on first use")
	fs.StringVar(&sshConfig, "ssh-config", "", "OpenSSH client config file to resolve hosts with")
	fs.StringVar(&proxy, "proxy", "", "Proxy URL [http|socks4|socks5|ws|wss]://[user:pass@]host[:port]")
	fs.StringVar(&prompt, "prompt", "", "Literal prompt of the remote shell, skips the prompt setup")
	fs.StringVar(&charset, "charset", "", "Remote charset, defaults to "+conf.DefaultCharset)
	fs.BoolVar(&useAgent, "agent", false, "Authenticates with keys from the SSH agent")
	fs.BoolVar(&execPty, "exec-pty", false, "Requests a PTY for exec channels")
}

func newLogger(prefix string) (*slog.Logger, error) {
	logger := slog.NewLogger(prefix)
	if err := logger.SetLevel(verbose); err != nil {
		return nil, err
	}
	logger.WithColors(!colorless)
	escseq.SetColors(!colorless)
	logger.WithJSON(jsonLog)
	logger.WithCallerInfo(callerLog)
	return logger, nil
}

// connectOptions merges, lowest priority first, the defaults, the
// environment, the profile and the flags the user set for target
func connectOptions(cmd *cobra.Command, target string) (*options.Options, error) {
	env, eErr := conf.LoadEnv()
	if eErr != nil {
		return nil, eErr
	}
	opts, oErr := options.FromEnv(env)
	if oErr != nil {
		return nil, oErr
	}

	if profile != "" {
		profiles, pErr := conf.LoadProfiles(env.Profiles)
		if pErr != nil {
			return nil, pErr
		}
		p, gErr := profiles.Get(profile)
		if gErr != nil {
			return nil, gErr
		}
		fromProfile, fErr := options.FromProfile(p)
		if fErr != nil {
			return nil, fErr
		}
		opts = append(opts, fromProfile...)
	}

	if target != "" {
		tUser, tHost, tPort, sErr := options.SplitTarget(target)
		if sErr != nil {
			return nil, sErr
		}
		opts = append(opts, options.WithHost(tHost, tPort))
		if tUser != "" {
			opts = append(opts, options.WithUsername(tUser))
		}
	}

	flagOpts, fErr := flagOptions(cmd.Flags())
	if fErr != nil {
		return nil, fErr
	}
	built := options.New(append(opts, flagOpts...)...)

	if built.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) && !hasIdentity(built) {
		pw, rErr := readPassword(built)
		if rErr != nil {
			return nil, rErr
		}
		built = built.With(options.WithPassword(pw))
	}
	return built, nil
}

func flagOptions(fs *pflag.FlagSet) ([]options.Option, error) {
	var opts []options.Option
	if fs.Changed("user") {
		opts = append(opts, options.WithUsername(user))
	}
	if fs.Changed("password") {
		opts = append(opts, options.WithPassword(password))
	}
	// socks shadows --port with its listening port
	if fs.Changed("port") && fs.Lookup("port") == rootCmd.PersistentFlags().Lookup("port") {
		opts = append(opts, options.WithHost("", port))
	}
	if fs.Changed("identity") {
		ids := make([]options.Identity, 0, len(identities))
		for _, key := range identities {
			ids = append(ids, options.Identity{PrivateKey: key})
		}
		opts = append(opts, options.WithIdentities(ids...))
	}
	if fs.Changed("timeout") {
		opts = append(opts, options.WithTimeout(timeout))
	}
	if fs.Changed("connect-timeout") {
		opts = append(opts, options.WithConnectTimeout(connectTimeout))
	}
	if fs.Changed("known-hosts") {
		opts = append(opts, options.WithKnownHosts(knownHosts))
	}
	if fs.Changed("ssh-config") {
		opts = append(opts, options.WithOpenSSHConfig(sshConfig))
	}
	if fs.Changed("proxy") {
		p, err := options.ParseProxy(proxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, options.WithProxy(p))
	}
	if fs.Changed("prompt") {
		opts = append(opts, options.WithPrompt(prompt))
	}
	if fs.Changed("charset") {
		opts = append(opts, options.WithCharset(charset))
	}
	if fs.Changed("agent") {
		opts = append(opts, options.WithAgent(useAgent))
	}
	if fs.Changed("exec-pty") {
		opts = append(opts, options.WithExecPty(execPty))
	}
	return opts, nil
}

func hasIdentity(opts *options.Options) bool {
	if opts.UseAgent {
		return true
	}
	for _, id := range opts.Identities {
		if _, err := os.Stat(id.PrivateKey); err == nil {
			return true
		}
	}
	return false
}

func readPassword(opts *options.Options) (string, error) {
	_, _ = fmt.Fprintf(os.Stderr, "%s@%s's password: ", opts.Username, opts.Address())
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// openRemote builds the handle for the HOST argument of a command
func openRemote(cmd *cobra.Command, target string) (*remote.Remote, *slog.Logger, error) {
	logger, lErr := newLogger("rshell")
	if lErr != nil {
		return nil, nil, lErr
	}
	opts, oErr := connectOptions(cmd, target)
	if oErr != nil {
		return nil, nil, oErr
	}
	logger.DebugWith("Connecting", slog.F("target", opts.String()))
	return remote.New(opts, remote.WithLogger(logger.Named(opts.Address()))), logger, nil
}
