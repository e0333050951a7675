package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/modelsearch/internal/config"
	"github.com/psantana5/modelsearch/pkg/auth"
	"github.com/psantana5/modelsearch/pkg/logging"
)

var (
	configForce        bool
	configInitPath     string
	keygenWithHash     bool
	logrotateComponent string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for showing, creating and securing the msearch configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an API key for the control API",
	Long: `Generate a random API key. With --hash the bcrypt hash is printed too;
put it under server.api_key_hashes to avoid storing the key itself.`,
	Args: cobra.NoArgs,
	RunE: runConfigKeygen,
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate configuration for file logging",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(logging.GenerateLogrotateConfig(logrotateComponent))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configKeygenCmd)
	configCmd.AddCommand(configLogrotateCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "file to write (default is $HOME/.msearch/config.yaml)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configKeygenCmd.Flags().BoolVar(&keygenWithHash, "hash", false, "also print the bcrypt hash of the key")
	configLogrotateCmd.Flags().StringVar(&logrotateComponent, "component", "supervisor", "log component")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	redacted := cfg.Redacted()

	if IsJSONOutput() {
		_, err := printStructured(redacted)
		return err
	}
	data, err := redacted.YAML()
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Printf("# loaded from %s\n", used)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configInitPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := config.WriteDefault(path, configForce); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runConfigKeygen(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	fmt.Printf("API key: %s\n", key)
	if keygenWithHash {
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return err
		}
		fmt.Printf("bcrypt hash: %s\n", hash)
	}
	fmt.Println("\nExport it for the CLI with: export MSEARCH_API_KEY=<key>")
	return nil
}
