package receive

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/memcon/cmd/util"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/client"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	receiveCmdConfig = &common.ReceiverConfig{}
	ReceiveCmd       = &cobra.Command{
		Use:     "receive",
		Short:   "Connect to a MemCon server and log the delivered slots",
		Long:    `Connect to a MemCon server as a receiver, start listening and log every delivered slot together with its latency. Ctrl-C disconnects from the server. The format of the environment variables is MEMCON_<flag> (e.g. MEMCON_ENDPOINT=/tmp/memcon.sock)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := common.DefaultServerConfig()

	key := "endpoint"
	ReceiveCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("Path of the unix socket of the server"))

	key = "send-timeout"
	ReceiveCmd.PersistentFlags().Duration(key, 100*time.Millisecond, cmdUtil.WrapString("How long a side channel message may wait for space in the socket buffer"))

	key = "handshake-timeout"
	ReceiveCmd.PersistentFlags().Duration(key, 5*time.Second, cmdUtil.WrapString("How long to wait for the server to complete the connection"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	receiveCmdConfig.Endpoint = viper.GetString("endpoint")
	receiveCmdConfig.SendTimeout = viper.GetDuration("send-timeout")
	receiveCmdConfig.LogLevel = viper.GetString("log-level")
	return nil
}

// run connects to the server and polls until the connection ends or the process is interrupted
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(receiveCmdConfig.LogLevel); err != nil {
		return err
	}

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	fmt.Print(receiveCmdConfig.String())

	conn, err := unix.Dial(receiveCmdConfig.Endpoint, receiveCmdConfig.SendTimeout)
	if err != nil {
		return err
	}

	r := client.NewReceiver(conn, s, memory.NewMemfdManager())
	defer r.Close()
	r.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handshakeCtx, cancel := context.WithTimeout(ctx, viper.GetDuration("handshake-timeout"))
	err = r.WaitReady(handshakeCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := r.StartListening(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			cmdUtil.Logger.Infof("Disconnecting")
			return r.Shutdown()
		case <-r.Done():
			return r.Err()
		case <-r.Notifications():
			if _, err := r.Poll(logSlot); err != nil {
				return err
			}
		}
	}
}

func logSlot(index uint32, content []byte) {
	tick, at, err := cmdUtil.DecodePayload(content)
	if err != nil {
		cmdUtil.Logger.Warningf("Slot %d: %v", index, err)
		return
	}
	cmdUtil.Logger.Infof("Slot %d: tick %d, latency %s", index, tick, time.Since(at))
}
