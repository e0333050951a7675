package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/modelsearch/internal/config"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/tlsutil"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	envFiles     []string
	tlsCertFile  string
	tlsKeyFile   string

	v = viper.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "msearch",
	Short: "LLM-driven model architecture search",
	Long: `msearch runs model architecture searches: an LLM proposes candidate
networks, a trainer evaluates them and the results steer the next proposal.

Start the supervisor with "msearch serve" and drive it with the job commands.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.msearch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "supervisor API URL (default from config or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default from MSEARCH_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&tlsCertFile, "tls-cert", "", "client certificate for mTLS")
	rootCmd.PersistentFlags().StringVar(&tlsKeyFile, "tls-key", "", "client key for mTLS")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := config.Bind(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding configuration: %v\n", err)
		os.Exit(1)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	} else if path, err := config.DefaultPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: ignoring %s: %v\n", path, err)
			}
		}
	}

	if serverURL == "" {
		serverURL = v.GetString("server.url")
	}
	if apiKey == "" {
		apiKey = os.Getenv("MSEARCH_API_KEY")
	}
	if apiKey == "" {
		if keys := v.GetStringSlice("server.api_keys"); len(keys) > 0 {
			apiKey = keys[0]
		}
	}
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
}

// loadConfig decodes and validates the full configuration.
func loadConfig() (config.Config, error) {
	return config.Load(v)
}

// newLogger builds the process logger for component.
func newLogger(cfg config.LoggingConfig, component, sub string) *logging.Logger {
	level := logging.ParseLevel(cfg.Level)
	if cfg.ToFile {
		logger, err := logging.NewFileLogger(component, sub, level, cfg.JSON)
		if err == nil {
			return logger
		}
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %v\n", err)
	}
	return logging.NewLogger(level, cfg.JSON)
}

// GetServerURL returns the configured API URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// IsYAMLOutput returns true if YAML output is requested
func IsYAMLOutput() bool {
	return outputFormat == "yaml"
}

// GetHTTPClient returns the client used for API calls. HTTPS URLs trust
// server.tls.ca_file when it is set.
func GetHTTPClient() *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	if !strings.HasPrefix(GetServerURL(), "https://") {
		return client
	}
	tlsConfig, err := tlsutil.ClientConfig(v.GetString("server.tls.ca_file"), tlsCertFile, tlsKeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return client
	}
	client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	return client
}

// CreateAuthenticatedRequest creates an HTTP request with authentication header if API key is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return req, nil
}
