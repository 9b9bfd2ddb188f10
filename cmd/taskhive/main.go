package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskhive/pkg/config"
	"taskhive/pkg/logger"
)

var (
	configDir string
	configEnv string

	cfg *config.Config
	lg  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "taskhive",
	Short:         "Project and task tracking service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env 可选
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Println("Error loading .env file, skipping:", err)
		}

		loaded, err := config.Load(configEnv, configDir)
		if err != nil {
			return err
		}
		cfg = loaded
		lg = logger.NewLogger(cfg.LogLevel).With(zap.String("env", cfg.Env))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if lg != nil {
			_ = lg.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory holding base.yaml, <env>.yaml and secrets.env")
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", config.GetConfigEnv(), "config environment (defaults to $CONFIG_ENV or local)")

	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err.Error())
	}
}
