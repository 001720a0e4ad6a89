package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"rshell/pkg/escseq"
	"rshell/pkg/shell"
	"rshell/pkg/slog"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var shellCmd = &cobra.Command{
	Use:   "shell HOST",
	Short: "Opens a line based shell conversation with HOST",
	Long: `Reads commands line by line and runs each one in a single shell on
HOST, so the working directory and variables persist between commands.
"exit" or EOF ends the conversation.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runShell,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// console reads command lines, raw mode with line editing on a terminal
type console struct {
	readLine func() (string, error)
	out      io.Writer
	restore  func()
}

func newConsole(prompt string) (*console, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		scanner := bufio.NewScanner(os.Stdin)
		return &console{
			readLine: func() (string, error) {
				if !scanner.Scan() {
					if err := scanner.Err(); err != nil {
						return "", err
					}
					return "", io.EOF
				}
				return scanner.Text(), nil
			},
			out:     os.Stdout,
			restore: func() {},
		}, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to set terminal raw mode: %w", err)
	}
	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, prompt)
	if width, height, sErr := term.GetSize(fd); sErr == nil {
		_ = t.SetSize(width, height)
	}
	return &console{
		readLine: t.ReadLine,
		out:      t,
		restore:  func() { _ = term.Restore(fd, state) },
	}, nil
}

func runShell(cmd *cobra.Command, args []string) error {
	r, logger, err := openRemote(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	c, err := newConsole(escseq.GreenBoldText(r.Options().Host+">") + " ")
	if err != nil {
		return err
	}
	defer c.restore()
	// raw mode needs CRLF, the terminal translates
	logger.SetOutput(c.out)

	sh := r.Shell()
	for {
		line, rErr := c.readLine()
		if rErr != nil {
			if errors.Is(rErr, io.EOF) {
				return nil
			}
			return rErr
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit":
			return nil
		}

		out, code, eErr := sh.ExecuteWithStatus(line)
		if out != "" {
			_, _ = fmt.Fprintln(c.out, out)
		}
		var tErr *shell.TimeoutError
		switch {
		case errors.As(eErr, &tErr):
			if tErr.Output != "" {
				_, _ = fmt.Fprintln(c.out, tErr.Output)
			}
			logger.WarnWith("Command timed out", slog.F("command", line))
		case errors.Is(eErr, shell.ErrStreamEnded):
			logger.WarnWith("Remote shell exited, a new one starts with the next command")
		case eErr != nil:
			return eErr
		case code != 0:
			logger.DebugWith("Command failed", slog.F("command", line), slog.F("status", code))
		}
	}
}
