package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yoockh/yoorelay/config"
	"github.com/yoockh/yoorelay/internal/audio"
)

// accelerate runs the speed transform once: stdin in, stdout out.
func newAccelerateCmd(log *logrus.Logger) *cobra.Command {
	var (
		speed  float64
		ffmpeg string
	)

	cmd := &cobra.Command{
		Use:   "accelerate",
		Short: "Speed up OGG/Opus audio read from stdin and write it to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				log.WithError(err).Warn("config has malformed values, using defaults for them")
			}
			if !cmd.Flags().Changed("speed") {
				speed = cfg.AudioSpeed
			}
			if ffmpeg == "" {
				ffmpeg = cfg.FFmpegPath
			}

			in, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			out, err := audio.NewAccelerator(ffmpeg, log).Accelerate(cmd.Context(), in, speed)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 2.0, "playback speed factor (atempo)")
	cmd.Flags().StringVar(&ffmpeg, "ffmpeg", "", "ffmpeg binary (default FFMPEG_PATH or ffmpeg)")
	return cmd
}
