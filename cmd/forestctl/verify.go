package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var verifyRemove bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Scan for crash debris left by interrupted writes",
	Long: `Scan the data directory for .tmp files. A .tmp file is only ever
visible while a write is in flight, so with the owning process stopped
any survivor is debris from an interrupted write. The committed value
next to it is intact; the debris is safe to remove.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyRemove, "remove", false, "delete the debris found")
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, logger, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()
	defer logger.Sync()

	root := c.Files().Root()
	var debris []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".tmp") {
			debris = append(debris, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(debris) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "clean: no interrupted writes found")
		return nil
	}

	for _, path := range debris {
		if verifyRemove {
			if err := removeDebris(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "debris  %s\n", path)
		}
	}
	if !verifyRemove {
		fmt.Fprintln(cmd.OutOrStdout(), "run with --remove to delete")
	}
	return nil
}

func removeDebris(path string) error {
	return os.Remove(path)
}
