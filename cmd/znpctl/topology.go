package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/robotalks/znp.go/pkg/apps/topology"
	"github.com/robotalks/znp.go/pkg/znp/host"
)

func topologyCmd() *cobra.Command {
	var (
		noStart    bool
		outputJSON bool
	)
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Start the network as coordinator and print its topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			var walker *topology.Walker
			l, err := startLink(ctx, host.OptionsFrom(conf), func(l *host.Link) (err error) {
				walker, err = topology.NewWalker(l)
				return
			})
			if err != nil {
				return err
			}
			defer l.Close()
			if !noStart {
				if err := startNetwork(ctx, l, conf.Network, nil); err != nil {
					return err
				}
			}
			topo, err := walker.Walk(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(topo)
			}
			_, err = topo.WriteTo(os.Stdout)
			return err
		},
	}
	cmd.Flags().BoolVar(&noStart, "no-start", false, "walk without starting the network")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print output in JSON")
	return cmd
}
