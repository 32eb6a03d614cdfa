package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/memcon/cmd/receive"
	"github.com/ValentinKolb/memcon/cmd/serve"
	"github.com/ValentinKolb/memcon/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "memcon",
		Short: "zero-copy shared memory publisher",
		Long: fmt.Sprintf(`MemCon (v%s)

Publishes fixed-size message slots from shared memory to many receiver
processes without copying the payload. Receivers connect over a unix
socket side channel that carries the memory handles and notifications.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of MemCon",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("MemCon v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(receive.ReceiveCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer of the side channel messages (binary, json, gob). Server and receivers must use the same one"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
