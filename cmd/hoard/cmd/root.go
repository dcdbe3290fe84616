package cmd

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aweris/hoard"
)

var rootCmd = &cobra.Command{
	Use:   "hoard",
	Short: "HTTP blob fetcher with a resumable disk cache",
	Long:  "Fetch HTTP blobs through a local disk cache with download resume, revalidation and offline fallback.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/hoard/config.yaml)")
	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory (default: ~/.cache/hoard)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "log to a rotated file instead of stderr")

	viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HOARD")
	viper.AutomaticEnv()
	viper.SetDefault("cache_dir", defaultCacheDir())
	viper.SetDefault("log_level", "warn")

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hoard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "hoard")
	}
	return ".hoard"
}

func defaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "hoard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "hoard")
	}
	return ".hoard"
}

func getCacheDir() string {
	return viper.GetString("cache_dir")
}

// newLogger builds the CLI logger from config. With log_file set, output
// rotates through lumberjack as JSON; otherwise text goes to stderr.
func newLogger() *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = logrus.WarnLevel
	}
	log.SetLevel(level)

	if path := viper.GetString("log_file"); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			log.SetOutput(&lumberjack.Logger{
				Filename:   path,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				LocalTime:  true,
			})
			log.SetFormatter(&logrus.JSONFormatter{})
		}
	}

	return log
}

func openFetcher() (hoard.Fetcher, error) {
	return hoard.Open(
		hoard.WithCacheDir(getCacheDir()),
		hoard.WithLogger(newLogger()),
	)
}
