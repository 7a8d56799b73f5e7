package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsProject string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect dialogue sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print one session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsProject, "project", "", "limit to one project")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	c, logger, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()
	defer logger.Sync()

	sessions, err := c.ListActiveSessions(cmd.Context(), sessionsProject)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s round=%-3d started=%s\n",
			s.ID, s.ProjectID, s.Round, s.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	c, logger, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()
	defer logger.Sync()

	session, err := c.LoadSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}
