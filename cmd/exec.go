package cmd

import (
	"fmt"
	"os"
	"strings"

	"rshell/pkg/executor"
	"rshell/pkg/sio"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec HOST -- CMD...",
	Short: "Runs a command on HOST",
	Long: `Runs a command on an exec channel of HOST, prints its output while
it runs and exits with the status of the remote command.`,
	Args:         cobra.MinimumNArgs(2),
	RunE:         runExec,
	SilenceUsage: true,
}

var execStdin bool

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().BoolVar(&execStdin, "stdin", false, "Forwards stdin to the remote command")
}

func runExec(cmd *cobra.Command, args []string) error {
	r, _, err := openRemote(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	command := strings.Join(args[1:], " ")
	x, sErr := r.Start(command, func(ev executor.Event) {
		if ev.Kind != executor.EventPart {
			return
		}
		if ev.Stream == executor.Stderr {
			_, _ = fmt.Fprintln(os.Stderr, ev.Text)
			return
		}
		_, _ = fmt.Fprintln(os.Stdout, ev.Text)
	})
	if sErr != nil {
		return sErr
	}
	defer func() { _ = x.Close() }()

	done := make(chan struct{})
	if execStdin {
		go sio.CopyStdinCancellable(x, done)
	} else {
		_ = x.CloseWrite()
	}
	code, wErr := x.Wait()
	close(done)
	if wErr != nil {
		return wErr
	}

	if code != 0 {
		cmd.SilenceErrors = true
		return exitCode(code)
	}
	return nil
}
