package main

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/pipechat/internal/config"
	"github.com/Tyrowin/pipechat/internal/logging"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	envFile   string
	root      string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pipechat",
		Short: "Local multi-user chat over named pipes",
		Long: `pipechat is a chat for users of one machine. A single broker process
relays every participant's lines to everybody else through FIFOs kept in a
shared directory. Start the broker with "pipechat server" and join with
"pipechat client <nickname>".

Settings come from flags, then CHAT_* environment variables, then the
optional --env-file, then built-in defaults.`,
		SilenceUsage: true,
	}

	opts.bind(cmd.PersistentFlags())
	cmd.AddCommand(newServerCmd(opts), newClientCmd(opts))
	return cmd
}

func (o *rootOptions) bind(flags *pflag.FlagSet) {
	flags.StringVar(&o.envFile, "env-file", "", "read CHAT_* settings from this dotenv file")
	flags.StringVar(&o.root, "root", "", "directory holding the chat FIFOs (default /tmp/chat)")
	flags.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&o.logFormat, "log-format", "", "log format: console or json")
}

// load resolves the configuration for cmd and builds its logger. Explicit
// flags win over the environment.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = o.root
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	cfg = config.Sanitize(cfg)

	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, zerolog.Nop(), errors.Wrap(err, "configure logging")
	}
	return cfg, log, nil
}
