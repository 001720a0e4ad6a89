package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"rshell/pkg/slog"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get HOST REMOTE [LOCAL]",
	Short: "Copies a remote file to LOCAL",
	Long: `Copies REMOTE from HOST to LOCAL, the current directory when
omitted. Uses scp and falls back to SFTP.`,
	Args:         cobra.RangeArgs(2, 3),
	RunE:         runGet,
	SilenceUsage: true,
}

var putCmd = &cobra.Command{
	Use:   "put HOST LOCAL REMOTE",
	Short: "Copies a local file to HOST",
	Long: `Copies LOCAL to REMOTE on HOST. A REMOTE ending with "/" is a
directory receiving the file under its local name. Uses scp and falls
back to SFTP.`,
	Args:         cobra.ExactArgs(3),
	RunE:         runPut,
	SilenceUsage: true,
}

var recursive bool

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	getCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Copies a whole directory")
	putCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Copies a whole directory")
}

func runGet(cmd *cobra.Command, args []string) error {
	r, logger, err := openRemote(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	src := args[1]
	dst := path.Base(src)
	if len(args) == 3 {
		dst = args[2]
	}
	if info, sErr := os.Stat(dst); sErr == nil && info.IsDir() && !recursive {
		dst = filepath.Join(dst, path.Base(src))
	}

	if recursive {
		if rErr := r.Transfer().ReceiveDir(src, dst); rErr != nil {
			return rErr
		}
		logger.InfoWith("Directory received", slog.F("remote", src), slog.F("local", dst))
		return nil
	}

	f, cErr := os.Create(dst)
	if cErr != nil {
		return fmt.Errorf("failed to create %s: %w", dst, cErr)
	}
	rErr := r.Transfer().Receive(src, f)
	if cErr = f.Close(); rErr == nil {
		rErr = cErr
	}
	if rErr != nil {
		_ = os.Remove(dst)
		return rErr
	}
	logger.InfoWith("File received", slog.F("remote", src), slog.F("local", dst))
	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	r, logger, err := openRemote(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	src, dst := args[1], args[2]
	if recursive {
		if sErr := r.Transfer().SendDir(src, dst); sErr != nil {
			return sErr
		}
		logger.InfoWith("Directory sent", slog.F("local", src), slog.F("remote", dst))
		return nil
	}
	if sErr := r.Transfer().Send(src, dst); sErr != nil {
		return sErr
	}
	logger.InfoWith("File sent", slog.F("local", src), slog.F("remote", dst))
	return nil
}
