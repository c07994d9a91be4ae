package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/novella/internal/api"
	"github.com/jackzampolin/novella/internal/config"
	"github.com/jackzampolin/novella/internal/home"
	"github.com/jackzampolin/novella/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "novella",
	Short: "Chunked LLM analysis of novel manuscripts",
	Long: `Novella splits a manuscript into chunks, analyzes each one with an LLM
and synthesizes the results into a single editorial report.

Two modes are available:
  - opening: the first chunks only, analyzed in order as one conversation
  - full:    every chunk, analyzed concurrently

Progress is saved as chunks complete, so an interrupted or rate-limited
run resumes from the last completed chunk.`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.novella/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "novella home directory (default: ~/.novella)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// environment is what every command that runs jobs locally needs.
type environment struct {
	home     *home.Dir
	config   *config.Manager
	logger   *slog.Logger
	closeLog func() error
}

// loadEnvironment resolves the home directory, loads configuration and
// builds the logger from it.
func loadEnvironment() (*environment, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	file := cfgFile
	if file == "" && h.ConfigExists() {
		file = h.ConfigPath()
	}
	cm, err := config.NewManager(file)
	if err != nil {
		return nil, err
	}

	conf := cm.Get()
	logFile := ""
	if conf.Logging.File {
		logFile = h.LogPath()
	}
	logger, closeLog := config.SetupLogger(logFile, config.ParseLevel(conf.Logging.Level))
	if file := cm.ConfigFile(); file != "" {
		logger.Debug("loaded config", "file", file)
	}

	return &environment{home: h, config: cm, logger: logger, closeLog: closeLog}, nil
}

func (e *environment) Close() {
	_ = e.closeLog()
}
