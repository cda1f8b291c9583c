package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keagan/storyreel/internal/config"
	"github.com/keagan/storyreel/internal/logging"
)

var (
	cfgFile string
	verbose bool
	logJSON bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "storyreel",
	Short:         "storyreel - storyboard to video renderer",
	Long:          "Turns a storyboard of scenes into one video by generating images and clips per scene, retiming them to the narration and joining them in order.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; FAL_KEY may already be in the environment
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return err
		}

		logging.Init(logging.Options{Verbose: verbose, JSON: logJSON})

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./storyreel.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON instead of console output")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(retimeCmd)
	rootCmd.AddCommand(concatCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(historyCmd)
}
