package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"rshell/pkg/remote"
	"rshell/pkg/ssftp"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:          "ls HOST [PATH]",
	Short:        "Lists a remote directory over SFTP",
	Args:         cobra.RangeArgs(1, 2),
	RunE:         runLs,
	SilenceUsage: true,
}

var rmCmd = &cobra.Command{
	Use:          "rm HOST PATH...",
	Short:        "Removes remote files or empty directories over SFTP",
	Args:         cobra.MinimumNArgs(2),
	RunE:         runRm,
	SilenceUsage: true,
}

var mkdirCmd = &cobra.Command{
	Use:          "mkdir HOST PATH...",
	Short:        "Creates remote directories over SFTP",
	Args:         cobra.MinimumNArgs(2),
	RunE:         runMkdir,
	SilenceUsage: true,
}

var mvCmd = &cobra.Command{
	Use:          "mv HOST FROM TO",
	Short:        "Renames a remote file over SFTP",
	Args:         cobra.ExactArgs(3),
	RunE:         runMv,
	SilenceUsage: true,
}

var mkdirParents bool

func init() {
	rootCmd.AddCommand(lsCmd, rmCmd, mkdirCmd, mvCmd)
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Creates missing parents, no error if existing")
}

// withSFTP runs fn on an SFTP client for the HOST argument
func withSFTP(cmd *cobra.Command, target string, fn func(*ssftp.Client) error) error {
	logger, lErr := newLogger("rshell")
	if lErr != nil {
		return lErr
	}
	opts, oErr := connectOptions(cmd, target)
	if oErr != nil {
		return oErr
	}
	return remote.WithFtp(opts, fn, remote.WithLogger(logger.Named(opts.Address())))
}

func runLs(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 2 {
		dir = args[1]
	}
	return withSFTP(cmd, args[0], func(c *ssftp.Client) error {
		entries, err := c.Ls(dir)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, e := range entries {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				e.Mode(), e.Size(), e.ModTime().Format("2006-01-02 15:04"), e.Name())
		}
		return w.Flush()
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	return withSFTP(cmd, args[0], func(c *ssftp.Client) error {
		for _, p := range args[1:] {
			info, err := c.Stat(p)
			if err != nil {
				return err
			}
			if info.IsDir() {
				err = c.Rmdir(p)
			} else {
				err = c.Rm(p)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func runMkdir(cmd *cobra.Command, args []string) error {
	return withSFTP(cmd, args[0], func(c *ssftp.Client) error {
		for _, p := range args[1:] {
			mk := c.Mkdir
			if mkdirParents {
				mk = c.MkdirAll
			}
			if err := mk(p); err != nil {
				return err
			}
		}
		return nil
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	return withSFTP(cmd, args[0], func(c *ssftp.Client) error {
		return c.Rename(args[1], args[2])
	})
}
