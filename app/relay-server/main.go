package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yoockh/yoorelay/internal/logger"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	root := &cobra.Command{
		Use:           "yoorelay",
		Short:         "Conversational relay between a messaging transport and AI backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(log), newAccelerateCmd(log))

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
