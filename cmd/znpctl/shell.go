package main

import (
	"github.com/spf13/cobra"

	"github.com/robotalks/znp.go/pkg/cli/sh"

	_ "github.com/robotalks/znp.go/pkg/cli/cmds/znp"
)

func shellCmd() *cobra.Command {
	var (
		evalOnly   bool
		outputJSON bool
		noConnect  bool
	)
	cmd := &cobra.Command{
		Use:   "shell [COMMAND ARGS...]",
		Short: "Interactive shell, or run one shell command",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s := sh.New(conf)
			s.Interactive = !evalOnly
			s.OutputJSON = outputJSON
			s.AutoConnect = !noConnect
			return s.Run(args...)
		},
	}
	cmd.Flags().BoolVarP(&evalOnly, "eval", "e", false, "evaluation only, no interactive shell")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print output in JSON")
	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "don't connect the configured device on start")
	return cmd
}
