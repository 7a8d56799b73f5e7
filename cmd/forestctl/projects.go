package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects in the data directory",
	Args:  cobra.NoArgs,
	RunE:  runProjects,
}

func runProjects(cmd *cobra.Command, args []string) error {
	c, logger, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()
	defer logger.Sync()

	projects, err := c.Files().ListProjects(cmd.Context())
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
