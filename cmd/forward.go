package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"rshell/pkg/slog"

	"github.com/spf13/cobra"
)

var forwardCmd = &cobra.Command{
	Use:   "forward HOST [-L lport:host:hport]... [-R rport:lhost:lport]...",
	Short: "Forwards TCP ports through HOST",
	Long: `Runs local (-L) and remote (-R) port forwards over an SSH connection
to HOST until interrupted. A local port of 0 picks a free one.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runForward,
	SilenceUsage: true,
}

var socksCmd = &cobra.Command{
	Use:   "socks HOST",
	Short: "Serves a SOCKS5 proxy whose connections leave from HOST",
	Long: `Serves SOCKS5 on a local port. Every proxied connection is opened by
HOST, which also resolves the names.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runSocks,
	SilenceUsage: true,
}

var (
	localForwards  []string
	remoteForwards []string
	socksPort      int
	socksExpose    bool
)

func init() {
	rootCmd.AddCommand(forwardCmd, socksCmd)
	forwardCmd.Flags().StringArrayVarP(&localForwards, "local", "L", nil, "Local forward lport:host:hport")
	forwardCmd.Flags().StringArrayVarP(&remoteForwards, "remote", "R", nil, "Remote forward rport:lhost:lport")
	socksCmd.Flags().IntVar(&socksPort, "port", 1080, "Local SOCKS5 port, 0 picks a free one, the SSH port goes in HOST")
	socksCmd.Flags().BoolVar(&socksExpose, "expose", false, "Listens on all interfaces instead of loopback")
}

// forwardSpec is a parsed port:host:port argument
type forwardSpec struct {
	bindPort int
	host     string
	port     int
}

func parseForwardSpec(spec string) (forwardSpec, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return forwardSpec{}, fmt.Errorf("invalid forward %q, expected port:host:port", spec)
	}
	bind, bErr := strconv.Atoi(parts[0])
	if bErr != nil || bind < 0 || bind > 65535 {
		return forwardSpec{}, fmt.Errorf("invalid port %q in %q", parts[0], spec)
	}
	port, pErr := strconv.Atoi(parts[2])
	if pErr != nil || port <= 0 || port > 65535 {
		return forwardSpec{}, fmt.Errorf("invalid port %q in %q", parts[2], spec)
	}
	if parts[1] == "" {
		return forwardSpec{}, fmt.Errorf("missing host in %q", spec)
	}
	return forwardSpec{bindPort: bind, host: parts[1], port: port}, nil
}

func waitInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	<-sig
}

func runForward(cmd *cobra.Command, args []string) error {
	if len(localForwards) == 0 && len(remoteForwards) == 0 {
		return errors.New("nothing to forward, use -L or -R")
	}
	var locals, remotes []forwardSpec
	for _, spec := range localForwards {
		fs, err := parseForwardSpec(spec)
		if err != nil {
			return err
		}
		locals = append(locals, fs)
	}
	for _, spec := range remoteForwards {
		fs, err := parseForwardSpec(spec)
		if err != nil {
			return err
		}
		remotes = append(remotes, fs)
	}

	r, logger, err := openRemote(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	m := r.Forwards()
	for _, fs := range locals {
		if _, lErr := m.Local(fs.bindPort, fs.host, fs.port); lErr != nil {
			return lErr
		}
	}
	for _, fs := range remotes {
		if _, rErr := m.Remote(fs.bindPort, fs.host, fs.port); rErr != nil {
			return rErr
		}
	}
	for _, mapping := range m.List() {
		logger.InfoWith("Forwarding", slog.F("mapping", mapping.String()))
	}

	waitInterrupt()
	return nil
}

func runSocks(cmd *cobra.Command, args []string) error {
	r, _, err := openRemote(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	s, sErr := r.Socks(socksPort, socksExpose)
	if sErr != nil {
		return sErr
	}
	go s.Serve()

	waitInterrupt()
	return s.Close()
}
