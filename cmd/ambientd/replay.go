package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/ambientd/internal/app"
	"github.com/dokzlo13/ambientd/internal/canbus"
	"github.com/dokzlo13/ambientd/internal/config"
)

var replayCmd = &cobra.Command{
	Use:   "replay <candump.log>",
	Short: "Replay a recorded CAN session through the lighting pipeline",
	Long: `Feeds a candump -L log through the interpreter and the animation engines,
then prints the final color of every light channel. Without --config the
built-in defaults are used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		realtime, _ := cmd.Flags().GetBool("realtime")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg := config.Default()
		if cmd.Flags().Changed("config") {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
		}

		setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

		rx, err := canbus.OpenLogFile(args[0], realtime)
		if err != nil {
			return err
		}

		opts := []app.Option{app.WithReceiver(rx), app.Headless()}
		if dryRun {
			opts = append(opts, app.WithMemoryStrips())
		}

		application, err := app.New(cfg, opts...)
		if err != nil {
			rx.Close()
			return err
		}

		log.Info().Str("log", args[0]).Bool("realtime", realtime).Bool("dry_run", dryRun).Msg("Replaying CAN session")

		colors, err := application.RunReplay(app.SignalContext())
		if err != nil {
			return err
		}

		for _, ch := range []string{app.ChannelDashboard, app.ChannelDoor} {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ch, colors[ch].Hex())
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().Bool("realtime", false, "Pace frames by their recorded timestamps")
	replayCmd.Flags().Bool("dry-run", false, "Render into in-memory strips instead of the configured drivers")
}
