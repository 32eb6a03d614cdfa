package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/memcon/cmd/util"
	"github.com/ValentinKolb/memcon/lib/logic/local"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/server"
	"github.com/ValentinKolb/memcon/rpc/transport/unix"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the MemCon server",
		Long:    `Start the MemCon server with the specified configuration. The server publishes one slot per interval to every connected receiver. The configuration can be set via command line flags or environment variables. The format of the environment variables is MEMCON_<flag> (e.g. MEMCON_NUMBER_OF_SLOTS=32)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := common.DefaultServerConfig()

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("Path of the unix socket receivers connect to"))

	key = "send-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaults.SendTimeout, cmdUtil.WrapString("How long a side channel message may wait for space in the socket buffer. Notifications that do not fit are dropped"))

	key = "group"
	ServeCmd.PersistentFlags().Uint32(key, 0, cmdUtil.WrapString("Group of the receiver ids issued by this server"))

	key = "max-receivers"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxReceivers, cmdUtil.WrapString("Maximum number of simultaneously connected receivers"))

	key = "receiver-classes"
	ServeCmd.PersistentFlags().String(key, "default=4", cmdUtil.WrapString("Comma-separated list of receiver classes. Format: NAME=LIMIT where LIMIT is the number of slots the receivers of the class may hold at the same time"))

	key = "default-class"
	ServeCmd.PersistentFlags().String(key, defaults.DefaultClass, cmdUtil.WrapString("Receiver class of accepted connections"))

	key = "number-of-slots"
	ServeCmd.PersistentFlags().Uint32(key, defaults.NumberOfSlots, cmdUtil.WrapString("Number of slots in the shared memory region"))

	key = "slot-size"
	ServeCmd.PersistentFlags().Uint32(key, defaults.SlotContentSize, cmdUtil.WrapString("Usable bytes per slot"))

	key = "slot-alignment"
	ServeCmd.PersistentFlags().Uint32(key, 0, cmdUtil.WrapString("Alignment of the slot start in bytes (0 = cache line)"))

	key = "queue-capacity"
	ServeCmd.PersistentFlags().Uint32(key, 0, cmdUtil.WrapString("Entries of the per receiver delivery and return queues (0 = number of slots)"))

	key = "interval"
	ServeCmd.PersistentFlags().Duration(key, defaults.PublishInterval, cmdUtil.WrapString("Publish interval"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus /metrics endpoint (e.g. localhost:9100). Empty disables it"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	classes, err := common.ParseReceiverClasses(viper.GetString("receiver-classes"))
	if err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.SendTimeout = viper.GetDuration("send-timeout")
	serveCmdConfig.Group = viper.GetUint32("group")
	serveCmdConfig.MaxReceivers = viper.GetInt("max-receivers")
	serveCmdConfig.ReceiverClasses = classes
	serveCmdConfig.DefaultClass = viper.GetString("default-class")
	serveCmdConfig.NumberOfSlots = viper.GetUint32("number-of-slots")
	serveCmdConfig.SlotContentSize = viper.GetUint32("slot-size")
	serveCmdConfig.SlotAlignment = viper.GetUint32("slot-alignment")
	serveCmdConfig.QueueCapacity = viper.GetUint32("queue-capacity")
	serveCmdConfig.PublishInterval = viper.GetDuration("interval")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.PublishInterval <= 0 {
		return fmt.Errorf("invalid publish interval %s", serveCmdConfig.PublishInterval)
	}
	if serveCmdConfig.SlotContentSize < cmdUtil.PayloadSize {
		return fmt.Errorf("slot size must be at least %d bytes", cmdUtil.PayloadSize)
	}
	return serveCmdConfig.Validate()
}

// run starts the MemCon server
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	srv, err := server.NewServer(*serveCmdConfig, memory.NewMemfdManager(), local.New, s, onTransition)
	if err != nil {
		return err
	}

	p, err := newPublisher(srv, *serveCmdConfig)
	if err != nil {
		return err
	}

	t := unix.NewUnixServerTransport()
	t.RegisterAcceptHandler(p.accept)

	fmt.Print(serveCmdConfig.String())

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- t.Listen(*serveCmdConfig)
	}()

	var metricsServer *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer = serveMetrics(serveCmdConfig.MetricsEndpoint, srv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(serveCmdConfig.PublishInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			cmdUtil.Logger.Infof("Shutting down")
			break loop
		case err := <-listenErr:
			runErr = errors.Wrap(err, "side channel listener stopped")
			break loop
		case now := <-ticker.C:
			if err := p.publish(now); err != nil {
				cmdUtil.Logger.Errorf("Failed to publish tick: %v", err)
			}
		}
	}

	if metricsServer != nil {
		_ = metricsServer.Close()
	}
	if err := shutdown(srv, t.Close); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// serveMetrics exposes the server metrics in the Prometheus text format
func serveMetrics(endpoint string, srv *server.Server) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		srv.Metrics().WritePrometheus(w)
	})

	httpServer := &http.Server{Addr: endpoint, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cmdUtil.Logger.Errorf("Metrics endpoint stopped: %v", err)
		}
	}()
	return httpServer
}

// shutdown disconnects all receivers, closes the transport and waits until the server can be closed
func shutdown(srv *server.Server, closeTransport func() error) error {
	if err := srv.Shutdown(); err != nil && !errors.Is(err, common.ErrReceiverError) {
		return err
	} else if err != nil {
		cmdUtil.Logger.Warningf("Shutdown: %v", err)
	}

	if err := closeTransport(); err != nil {
		cmdUtil.Logger.Warningf("Failed to close side channel transport: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for srv.IsInUse() {
		if time.Now().After(deadline) {
			return errors.Wrap(common.ErrUnexpectedState, "receivers still in use after shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv.Close()
}
