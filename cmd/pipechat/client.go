package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/pipechat/internal/client"
	"github.com/Tyrowin/pipechat/internal/endpoint"
)

const clientCmdName = "client"

type clientOptions struct {
	id      int32
	timeout time.Duration
	noColor bool
}

func newClientCmd(root *rootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   clientCmdName + " [nickname]",
		Short: "Join the chat",
		Long: `Join the chat as nickname (the client id when omitted). Every line
typed on stdin is sent to the other participants; their lines are printed
as "<nickname>: <text>". End input (Ctrl-D) to leave.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}

			acfg := client.Config{
				Namespace:      endpoint.NewNamespace(cfg.Root),
				ID:             int32(os.Getpid()),
				ConnectTimeout: cfg.Client.ConnectTimeout,
				Color:          !opts.noColor,
			}
			if cmd.Flags().Changed("id") {
				acfg.ID = opts.id
			}
			if cmd.Flags().Changed("timeout") {
				acfg.ConnectTimeout = opts.timeout
			}
			if len(args) == 1 {
				acfg.Nickname = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			agent := client.New(acfg, cmd.InOrStdin(), cmd.OutOrStdout(), log)
			return agent.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.Int32Var(&opts.id, "id", 0, "client id (default the process id)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "how long to wait for the broker to accept (default from CHAT_CONNECT_TIMEOUT or 5s)")
	flags.BoolVar(&opts.noColor, "no-color", false, "print nicknames without colour")
	return cmd
}
