package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dCache server",
		Long:    `Start the dCache server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCACHE_<flag> (e.g. DCACHE_FIND_TIMEOUT=2s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", util.WrapString("The address on which the server will listen (e.g. 0.0.0.0:8080 for tcp, /tmp/dcache.sock for unix)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, util.WrapString("Write timeout of responses and broadcasts in seconds"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 64, util.WrapString("How many requests of one connection are processed concurrently"))

	key = "find-timeout"
	ServeCmd.PersistentFlags().Duration(key, server.DefaultFindTimeout, util.WrapString("How long a read of a missing shared value waits for the clients to publish it"))

	key = "broadcast-workers"
	ServeCmd.PersistentFlags().Int(key, 4, util.WrapString("Size of the pool that sends broadcasts to the clients"))

	key = "shared-backend"
	ServeCmd.PersistentFlags().String(key, string(common.BackendMemory), util.WrapString("Storage of the shared scope (memory, maple, pebble, leveldb, redis). pebble and leveldb need a data directory, maple writes a snapshot to it on shutdown if one is set"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Directory of the persistent storage. If set, identifiers survive a restart"))

	key = "redis-addr"
	ServeCmd.PersistentFlags().String(key, "localhost:6379", util.WrapString("Address of the redis server (redis backend only)"))

	key = "redis-prefix"
	ServeCmd.PersistentFlags().String(key, "dcache/", util.WrapString("Prefix of all redis keys (redis backend only)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Address of the Prometheus /metrics endpoint (e.g. :9100, empty disables it)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	backend, err := common.ParseBackend(viper.GetString("shared-backend"))
	if err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.FindTimeout = viper.GetDuration("find-timeout")
	serveCmdConfig.BroadcastWorkers = viper.GetInt("broadcast-workers")
	serveCmdConfig.SharedBackend = backend
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.RedisAddr = viper.GetString("redis-addr")
	serveCmdConfig.RedisPrefix = viper.GetString("redis-prefix")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return serveCmdConfig.Validate()
}

// run starts the dCache server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer = startMetrics(serveCmdConfig.MetricsEndpoint)
	}

	go func() {
		<-ctx.Done()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsServer.Shutdown(shutdownCtx)
			cancel()
		}
		if err := serv.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error while stopping the server: %v\n", err)
		}
	}()

	return serv.Serve()
}

// startMetrics serves all metrics in the Prometheus text format on /metrics
func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics endpoint %s failed: %v\n", addr, err)
		}
	}()
	return srv
}
