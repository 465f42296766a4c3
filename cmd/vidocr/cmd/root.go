package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/vidocr/internal/config"
	"github.com/MeKo-Tech/vidocr/internal/models"
	"github.com/MeKo-Tech/vidocr/internal/onnx"
	"github.com/MeKo-Tech/vidocr/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vidocr",
	Short: "Video text recognition pipeline with lineage tracking",
	Long: `vidocr finds objects in videos, locates text on them and recognizes it.

Each upload runs through six stages: ingest, detect (YOLO), preprocess-a
(contrast), refine (text regions), preprocess-b (deblur) and recognize
(PARSeq). Every stage writes files plus a database record that links back to
the source video, so any recognized text can be traced to its frame.

Examples:
  vidocr run clip.mp4
  vidocr run ./videos --recursive --format json
  vidocr stage detect 12
  vidocr lineage 12 --format yaml
  vidocr serve --port 8080`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(cmd.Root().PersistentFlags()); err != nil {
			return err
		}
		setupLogging(globalConfig)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	onnx.DestroyEnvironment()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(version.String() + "\n")

	// Global flags that apply to all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is vidocr.yaml in ., $HOME/.config/vidocr, /etc/vidocr)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	// Set default models-dir from environment variable if available
	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")
	rootCmd.PersistentFlags().String("db", "", "override database.path")
	rootCmd.PersistentFlags().String("storage", "", "override storage.root")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))
}

// initConfig reads in the config file and ENV variables, then applies the
// path overrides given on the command line. flags is the root command's
// persistent flag set.
func initConfig(flags *pflag.FlagSet) error {
	configLoader = config.NewLoader()

	cfg, err := configLoader.LoadWithFile(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if db, _ := flags.GetString("db"); db != "" {
		cfg.Database.Path = db
	}
	if root, _ := flags.GetString("storage"); root != "" {
		cfg.Storage.Root = root
	}
	globalConfig = cfg
	return nil
}

// setupLogging installs the JSON slog handler on stderr, keeping stdout for
// command output.
func setupLogging(cfg *config.Config) {
	var logLevel slog.Level
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// GetConfig returns the global configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		if err := initConfig(rootCmd.PersistentFlags()); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	return globalConfig
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
