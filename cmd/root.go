package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dCache/cmd/cache"
	"github.com/ValentinKolb/dCache/cmd/serve"
	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcache",
		Short: "distributed computation-value cache",
		Long: fmt.Sprintf(`dCache (v%s)

A distributed cache for computed values written in Go. Every cache node
keeps a private scope, a server keeps the shared scope and the identifier
space of all nodes and finds missing values on the other nodes.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCache v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cache.CacheCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, msgpack, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
