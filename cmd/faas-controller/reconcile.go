package main

import (
	"faas-controller/internal/config"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newReconcileCmd(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Promote pending functions whose workloads became ready, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(config.MustLoad(), log)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.mgr.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("promoted", n).Msg("reconcile pass finished")
			return nil
		},
	}
}
