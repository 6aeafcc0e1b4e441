package cache

import (
	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.Client

	// CacheCommands represents the cache command group
	CacheCommands = &cobra.Command{
		Use:                "cache",
		Short:              "Read and write the caches of a dCache server",
		PersistentPreRunE:  setupCacheClient,
		PersistentPostRunE: closeCacheClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the cache command
	util.SetupRPCClientFlags(CacheCommands)

	CacheCommands.PersistentFlags().StringArray("prop", nil, util.WrapString("Property of the value key as NAME=VALUE, may be repeated"))
	CacheCommands.PersistentFlags().String("node", "", util.WrapString("Node name reported to the server (default: random)"))
	CacheCommands.PersistentFlags().Bool("write-behind", false, util.WrapString("Apply writes in the background and wait for them before exiting"))
	CacheCommands.PersistentFlags().Int("read-buffer", 0, util.WrapString("Number of recently read values kept per cache (0 disables read coalescing)"))

	// Add subcommands
	CacheCommands.AddCommand(getCmd)
	CacheCommands.AddCommand(putCmd)
	CacheCommands.AddCommand(findCmd)
	CacheCommands.AddCommand(releaseCmd)
	CacheCommands.AddCommand(identifyCmd)
	CacheCommands.AddCommand(resolveCmd)
}

// setupCacheClient connects the cache client
func setupCacheClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	rpcClient, err = client.NewClient(*config, t, s, client.Options{
		Node:        viper.GetString("node"),
		WriteBehind: viper.GetBool("write-behind"),
		ReadBuffer:  viper.GetInt("read-buffer"),
	})
	return err
}

func closeCacheClient(*cobra.Command, []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
