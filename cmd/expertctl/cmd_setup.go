package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/symptom-expert-server/internal/setup"
)

var setupFlags struct {
	binary       string
	serverConfig string
	desktopFile  string
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Register the MCP server with desktop clients",
}

var setupDesktopCmd = &cobra.Command{
	Use:   "desktop",
	Short: "Add the MCP server to the Claude Desktop configuration",
	Args:  cobra.NoArgs,
	RunE:  runSetupDesktop,
}

func init() {
	f := setupDesktopCmd.Flags()
	f.StringVar(&setupFlags.binary, "binary", "", "path to the mcp-server binary (default: search PATH)")
	f.StringVar(&setupFlags.serverConfig, "server-config", "", "config.yaml the MCP server should load")
	f.StringVar(&setupFlags.desktopFile, "desktop-config", "", "desktop client config file (default: platform location)")

	setupCmd.AddCommand(setupDesktopCmd)
	rootCmd.AddCommand(setupCmd)
}

func runSetupDesktop(cmd *cobra.Command, _ []string) error {
	path := setupFlags.desktopFile
	if path == "" {
		var err error
		if path, err = setup.DesktopConfigPath(); err != nil {
			return err
		}
	}

	entry, err := setup.Register(path, setup.Options{
		BinaryPath: setupFlags.binary,
		ConfigFile: setupFlags.serverConfig,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Registered %q in %s\n", setup.ServerName, path)
	fmt.Fprintf(out, "  command: %s\n", entry.Command)
	if len(entry.Args) > 0 {
		fmt.Fprintf(out, "  args:    %v\n", entry.Args)
	}
	fmt.Fprintln(out, "Restart the desktop client to load the server.")
	return nil
}
