package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// @title           FaaS Controller API
// @version         1.0
// @description     Deploys, scales, invokes and meters serverless functions across regions.
// @host            localhost:8080
// @BasePath        /
func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().
		Str("svc", "faas-controller").Logger()

	root := &cobra.Command{
		Use:           "faas-controller",
		Short:         "Control plane for scale-to-zero functions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(log), newReconcileCmd(log))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
