package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Inspect project documents",
}

var filesListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List a project's committed documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesList,
}

var filesGetCmd = &cobra.Command{
	Use:   "get <project> <path>",
	Short: "Print a committed document",
	Args:  cobra.ExactArgs(2),
	RunE:  runFilesGet,
}

func init() {
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesGetCmd)
}

func runFilesList(cmd *cobra.Command, args []string) error {
	c, logger, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()
	defer logger.Sync()

	files, err := c.Files().ListFiles(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, f := range files {
		info, err := c.Files().Stat(cmd.Context(), args[0], f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-40s %8d  %s\n", f, info.Size, info.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runFilesGet(cmd *cobra.Command, args []string) error {
	c, logger, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()
	defer logger.Sync()

	data, err := c.ReadFile(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}
