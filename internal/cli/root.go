package cli

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/promessa/internal/model"
)

// Version is overridden at build time with -ldflags
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "promessa",
	Short: "Promessa - political promise viability audit",
	Long: `Promessa audits political promises.

It collects evidence about a public figure from official registries, search
engines, news feeds and official gazettes, filters it for relevance, checks
it against voting history and budget execution, and produces one viability
score with a transparent breakdown.

The score measures whether a promise can plausibly be kept. It does not
judge whether the promise is good, sincere, or true.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("promessa %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.promessa/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig sets up logging and reads the config file and environment
func initConfig() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Defaults go in first so every key is known to viper and can be
	// overridden from the environment.
	viper.SetConfigType("yaml")
	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err == nil {
		_ = viper.ReadConfig(bytes.NewReader(defaults))
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
	}

	// PROMESSA_QUEUE_BACKEND overrides queue.backend, and so on
	viper.SetEnvPrefix("PROMESSA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".promessa"), nil
}

// loadConfig resolves the effective configuration: flags > env > file >
// defaults. Well-known provider variables fill in unset secrets.
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" && strings.EqualFold(cfg.LLM.Provider, "ollama") {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if cfg.Cache.RedisAddr == "" {
			cfg.Cache.RedisAddr = addr
		}
		if cfg.Queue.RedisAddr == "" {
			cfg.Queue.RedisAddr = addr
		}
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("SEARCH_API_KEY")
	}
	if cfg.Registries.BudgetAPIKey == "" {
		cfg.Registries.BudgetAPIKey = os.Getenv("TRANSPARENCIA_API_KEY")
	}

	if cfg.Store.Path == "" || cfg.Cache.Dir == "" {
		dir, err := configDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}
		if cfg.Store.Path == "" {
			cfg.Store.Path = filepath.Join(dir, "promessa.db")
		}
		if cfg.Cache.Dir == "" {
			cfg.Cache.Dir = filepath.Join(dir, "cache")
		}
	}
	return cfg, nil
}
