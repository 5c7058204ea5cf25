package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "meridian.yaml"

// buildRootCmd assembles the command tree.
func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meridian",
		Short:         "Adaptive agent runtime with quality-gated reasoning",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(
		buildChatCmd(),
		buildSessionsCmd(),
		buildMCPCmd(),
		buildVersionCmd(),
	)
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		stream     bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, sessionID, stream)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume the session with this ID")
	cmd.Flags().BoolVar(&stream, "stream", true, "Stream responses as they are accepted")
	return cmd
}

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsDeleteCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect capability servers",
	}
	cmd.AddCommand(buildMCPStatusCmd())
	return cmd
}

func buildMCPStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe each configured server and report its tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "meridian %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
