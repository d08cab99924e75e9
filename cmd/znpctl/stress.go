package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/robotalks/znp.go/pkg/admin"
	"github.com/robotalks/znp.go/pkg/apps/network"
	"github.com/robotalks/znp.go/pkg/apps/stress"
	"github.com/robotalks/znp.go/pkg/config"
	fx "github.com/robotalks/znp.go/pkg/framework"
	"github.com/robotalks/znp.go/pkg/znp/host"
)

func stressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run the echo stress test until interrupted",
		Long: `On a coordinator, sends sequence numbered test messages to every device
joining the network and counts the echoed ones. On other device types,
echoes test messages back to the sender.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runner := fx.NewRunner().HandleSignals()
			var tester *stress.Tester
			l, err := startLink(runner.Context, host.OptionsFrom(conf), func(l *host.Link) (err error) {
				tester, err = stress.Attach(l, conf.Network.DeviceType == config.Coordinator, conf.Stress)
				return
			})
			if err != nil {
				return err
			}
			defer l.Close()
			err = startNetwork(runner.Context, l, conf.Network, func(s *network.Starter) {
				s.Endpoint = stress.Endpoint()
			})
			if err != nil {
				return err
			}

			runner.Go(linkRunnable(l), fx.NamedRun("stress", fx.RunFunc(tester.Run)))
			if conf.Admin.Addr != "" {
				srv := admin.New(l)
				srv.Stress = tester.Stats
				runner.Go(fx.NamedRun("admin", fx.RunFunc(func(ctx context.Context) error {
					return srv.ListenAndServe(ctx, conf.Admin.Addr)
				})))
			}
			return runner.Wait()
		},
	}
	return cmd
}
