package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrape-dispatch/internal/app"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the providers enabled by the plugins setting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := provider.Select(rt.cfg.Plugins, app.Catalog(rt.logger))
			if err != nil {
				return err
			}
			registry := provider.NewRegistry(rt.logger)
			for _, p := range selected {
				if err := registry.Add(p); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, p := range registry.Providers() {
				fmt.Fprintln(out, provider.Key(p))
			}
			return nil
		},
	}
}
