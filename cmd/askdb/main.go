// Command askdb answers natural-language questions with SQL and Cypher.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/config"
	logpkg "github.com/kailas-cloud/askdb/internal/logger"
	"github.com/kailas-cloud/askdb/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		}
		os.Exit(1)
	}
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	env        string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "askdb",
		Short: "Ask your databases questions in plain language",
		Long: `askdb turns natural-language questions into SQL or Cypher,
validates the generated query against the database schema and runs it
read-only through configurable pipelines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default config/<env>.yaml)")
	root.PersistentFlags().StringVar(&opts.env, "env", "", "environment: local, dev, docker, prod (default $ASKDB_ENV or local)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newReindexCmd(opts),
		newPipelinesCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// loadEnvFile exports variables from path. A missing file is not an error;
// variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// environment returns the --env flag or the process environment.
func (o *globalOptions) environment() string {
	if o.env != "" {
		return o.env
	}
	return config.GetEnv()
}

func (o *globalOptions) loadConfig() (config.Config, error) {
	if o.configPath != "" {
		return config.LoadFile(o.configPath)
	}
	return config.Load(o.environment())
}

// logger builds a logger for env. Level precedence: flag, configLevel, environment default.
func (o *globalOptions) logger(env, configLevel string) (*zap.Logger, error) {
	level := o.logLevel
	if level == "" {
		level = configLevel
	}
	l, err := logpkg.NewLogger(env, level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return l, nil
}
