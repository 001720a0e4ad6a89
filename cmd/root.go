package cmd

import (
	"errors"
	"fmt"
	"os"

	"rshell/pkg/conf"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rshell",
	Short: "rshell - Remote command execution, shell and file transfer over SSH",
	Long: `rshell runs commands, shell conversations and file transfers on
remote hosts over SSH. File transfers use scp and fall back to SFTP
when scp is not available on the remote host.

Connection settings are read from RSHELL_* environment variables,
then from the profile given with --profile, then from flags.`,
	SilenceUsage: true,
}

// Global flags
var (
	verbose   string
	colorless bool
	jsonLog   bool
	callerLog bool
	profile   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&verbose, "verbose", "info", "Adds verbosity [debug|info|warn|error|off]")
	pf.BoolVar(&colorless, "colorless", false, "Disables logging colors")
	pf.BoolVar(&jsonLog, "json-log", false, "Enables JSON formatted logging")
	pf.BoolVar(&callerLog, "caller-log", false, "Display caller information in logs")
	pf.StringVar(&profile, "profile", "", "Connection profile from "+conf.ProfilesFileName)
	addConnectionFlags(pf)

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Shows Binary Build info",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		conf.PrintVersion()
	},
}

// exitCode carries the status of a remote command to the process exit code
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("remote command exited with status %d", int(e))
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var code exitCode
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	// Error is already printed by the command, just exit
	os.Exit(1)
}
