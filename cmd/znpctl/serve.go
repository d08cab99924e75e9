package main

import (
	"context"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/robotalks/znp.go/pkg/admin"
	"github.com/robotalks/znp.go/pkg/bridge/mqtt"
	fx "github.com/robotalks/znp.go/pkg/framework"
	"github.com/robotalks/znp.go/pkg/znp/host"
)

func serveCmd() *cobra.Command {
	var (
		start   bool
		mqttURL string
		addr    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bridge the link to MQTT and serve the admin endpoints until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mqtt") {
				conf.MQTT.URL = mqttURL
			}
			if cmd.Flags().Changed("admin") {
				conf.Admin.Addr = addr
			}

			runner := fx.NewRunner().HandleSignals()
			var bridge *mqtt.Bridge
			l, err := startLink(runner.Context, host.OptionsFrom(conf), func(l *host.Link) error {
				if conf.MQTT.URL == "" {
					return nil
				}
				b, err := mqtt.New(conf.MQTT, l.Dispatcher)
				if err != nil {
					return err
				}
				b.CallTimeout = conf.CallTimeout.Duration
				l.AddObserver(b)
				bridge = b
				return nil
			})
			if err != nil {
				return err
			}
			defer l.Close()
			if start {
				if err := startNetwork(runner.Context, l, conf.Network, nil); err != nil {
					return err
				}
			}

			runner.Go(linkRunnable(l))
			if bridge != nil {
				glog.Infof("bridging to %s as %s", conf.MQTT.URL, bridge.HostID)
				runner.Go(fx.NamedRun("mqtt", fx.RunFunc(bridge.Run)))
			}
			if conf.Admin.Addr != "" {
				srv := admin.New(l)
				runner.Go(fx.NamedRun("admin", fx.RunFunc(func(ctx context.Context) error {
					return srv.ListenAndServe(ctx, conf.Admin.Addr)
				})))
			}
			return runner.Wait()
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "start the network before serving")
	cmd.Flags().StringVar(&mqttURL, "mqtt", "", "MQTT broker URL, mqtt://host:port/topic-prefix")
	cmd.Flags().StringVar(&addr, "admin", "", "admin listen address")
	return cmd
}
