// Command pipechat runs either side of the FIFO chat: the broker that relays
// messages, or a participant that sends and prints them.
package main

import (
	"os"
	"path/filepath"
)

func main() {
	root := newRootCmd()
	root.SetArgs(argsForRole(filepath.Base(os.Args[0]), os.Args[1:]))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// argsForRole lets the binary be installed or linked as "server" or "client"
// and behave as that subcommand.
func argsForRole(name string, args []string) []string {
	switch name {
	case serverCmdName, clientCmdName:
		return append([]string{name}, args...)
	default:
		return args
	}
}
