package cache

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dCache/cmd/util"
	libcache "github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cache/deferred"
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [cycle] [config] [key]",
		Short: "Gets the shared value of a key, asking the other nodes if it is missing",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, k, err := sessionAndKey(cmd, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			v, found, err := session.Get(k)
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("%s not found\n", k)
				return nil
			}
			fmt.Printf("%v\n", v)
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [cycle] [config] [key] [value]",
		Short: "Puts a value into the shared scope",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, k, err := sessionAndKey(cmd, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			v, err := parseValue(args[3], viper.GetString("type"))
			if err != nil {
				return err
			}
			if err := session.PutShared(libcache.Value{Key: k, Value: v}); err != nil {
				return err
			}
			// with write-behind the put is only queued
			if err := session.Flush(); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	findCmd = &cobra.Command{
		Use:   "find [cycle] [config] [key]...",
		Short: "Asks all nodes to publish their private values of the keys",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ck, err := parseCacheKey(args[0], args[1])
			if err != nil {
				return err
			}
			keys := make([]key.ValueKey, 0, len(args)-2)
			for _, arg := range args[2:] {
				k, err := parseKey(cmd, arg)
				if err != nil {
					return err
				}
				keys = append(keys, k)
			}
			ids, err := rpcClient.Identifiers().IdentifyMany(keys)
			if err != nil {
				return err
			}
			if err := rpcClient.Find(ck, ids); err != nil {
				return err
			}
			fmt.Printf("find for %d keys sent\n", len(ids))
			return nil
		},
	}
	releaseCmd = &cobra.Command{
		Use:   "release [cycle]",
		Short: "Releases all caches of a cycle on the server and on all nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycle, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cycle must be a number: %w", err)
			}
			if err := rpcClient.ReleaseCaches(cycle); err != nil {
				return err
			}
			fmt.Printf("cycle %d released\n", cycle)
			return nil
		},
	}
	identifyCmd = &cobra.Command{
		Use:   "identify [key]",
		Short: "Prints the identifier of a key, assigning one if it is new",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKey(cmd, args[0])
			if err != nil {
				return err
			}
			id, err := rpcClient.Identifiers().Identify(k)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	resolveCmd = &cobra.Command{
		Use:   "resolve [id]",
		Short: "Prints the key of an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("id must be a number: %w", err)
			}
			k, found, err := rpcClient.Identifiers().Resolve(id)
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("identifier %d not found\n", id)
				return nil
			}
			fmt.Println(k)
			return nil
		},
	}
)

func init() {
	putCmd.Flags().String("type", "string", util.WrapString("Type of the value (string, int, float, bool)"))
}

func parseCacheKey(cycle, config string) (libcache.CacheKey, error) {
	id, err := strconv.ParseUint(cycle, 10, 64)
	if err != nil {
		return libcache.CacheKey{}, fmt.Errorf("cycle must be a number: %w", err)
	}
	if config == "" {
		return libcache.CacheKey{}, fmt.Errorf("config must not be empty")
	}
	return libcache.CacheKey{CycleID: id, CalcConfig: config}, nil
}

func parseKey(cmd *cobra.Command, s string) (key.ValueKey, error) {
	props, err := cmd.Flags().GetStringArray("prop")
	if err != nil {
		return key.ValueKey{}, err
	}
	return util.ParseValueKey(s, props)
}

func sessionAndKey(cmd *cobra.Command, cycle, config, s string) (deferred.Session, key.ValueKey, error) {
	ck, err := parseCacheKey(cycle, config)
	if err != nil {
		return nil, key.ValueKey{}, err
	}
	k, err := parseKey(cmd, s)
	if err != nil {
		return nil, key.ValueKey{}, err
	}
	session, err := rpcClient.Session(ck)
	return session, k, err
}

// parseValue converts the command line value to typ
func parseValue(s, typ string) (v any, err error) {
	switch typ {
	case "string", "":
		v = s
	case "int":
		v, err = strconv.ParseInt(s, 10, 64)
	case "float":
		v, err = strconv.ParseFloat(s, 64)
	case "bool":
		v, err = strconv.ParseBool(s)
	default:
		err = fmt.Errorf("invalid value type %s (expected string, int, float or bool)", typ)
	}
	return v, err
}
