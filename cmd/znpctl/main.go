package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/robotalks/znp.go/pkg/apps/network"
	"github.com/robotalks/znp.go/pkg/config"
	fx "github.com/robotalks/znp.go/pkg/framework"
	"github.com/robotalks/znp.go/pkg/znp/host"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	configFile string
	device     string
	baud       int
	timeout    config.Duration
}

var global globalFlags

func main() {
	rootCmd := &cobra.Command{
		Use:   "znpctl",
		Short: "Host tool for Z-Stack network processors",
		Long: `znpctl talks to a Z-Stack network processor over serial, TCP or
websocket, starts the network and runs the sample applications.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// glog flags are bound through cobra, mark the Go flag set parsed.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return flag.CommandLine.Parse(nil)
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&global.configFile, "config", "", "TOML configuration file")
	flags.StringVar(&global.device, "device", "", "device path or serial://, tcp://, ws:// URL")
	flags.IntVar(&global.baud, "baud", 0, "serial baud rate")
	flags.Var(&durationFlag{&global.timeout}, "timeout", "synchronous request timeout")
	flags.AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(
		shellCmd(),
		topologyCmd(),
		stressCmd(),
		serveCmd(),
		versionCmd(),
	)

	err := rootCmd.Execute()
	glog.Flush()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type durationFlag struct {
	d *config.Duration
}

func (f *durationFlag) String() string {
	if f.d == nil || f.d.Duration == 0 {
		return ""
	}
	return f.d.Duration.String()
}

func (f *durationFlag) Set(s string) error {
	return f.d.UnmarshalText([]byte(s))
}

func (f *durationFlag) Type() string {
	return "duration"
}

// loadConfig applies the config file then the flags over the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf := config.NewConfig()
	if global.configFile != "" {
		if err := conf.LoadFile(global.configFile); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("device") {
		conf.Device = global.device
	}
	if flags.Changed("baud") {
		conf.Baud = global.baud
	}
	if flags.Changed("timeout") {
		conf.CallTimeout = global.timeout
	}
	return conf, conf.Validate()
}

// startLink opens and starts a link, setup registers handlers in between.
func startLink(ctx context.Context, opts host.Options, setup func(*host.Link) error) (*host.Link, error) {
	l, err := host.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Target, err)
	}
	if setup != nil {
		if err := setup(l); err != nil {
			l.Close()
			return nil, err
		}
	}
	if err := l.Start(ctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func startNetwork(ctx context.Context, l *host.Link, conf config.NetworkConfig, setup func(*network.Starter)) error {
	s := network.NewStarter(l, conf)
	if setup != nil {
		setup(s)
	}
	res, err := s.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("network %s: %s, ieee %016x\n", res.Startup, res.State, res.IEEEAddr)
	return nil
}

// linkRunnable ends when the link stops.
func linkRunnable(l *host.Link) fx.Runnable {
	return fx.NamedRun("link", fx.RunFunc(func(ctx context.Context) error {
		select {
		case <-l.Done():
			if err := l.Err(); err != nil {
				return err
			}
			return errors.New("link stopped")
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
}
