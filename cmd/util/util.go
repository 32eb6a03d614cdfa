package util

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/memcon/rpc/serializer"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// PayloadSize is the size of the payload `memcon serve` writes into every slot
	PayloadSize = 16
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("memcon")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IMessageSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// EncodePayload writes the tick counter and the publish time into slot
func EncodePayload(slot []byte, tick uint64, at time.Time) error {
	if len(slot) < PayloadSize {
		return fmt.Errorf("slot of %d bytes cannot hold the %d byte payload", len(slot), PayloadSize)
	}
	binary.BigEndian.PutUint64(slot[0:8], tick)
	binary.BigEndian.PutUint64(slot[8:16], uint64(at.UnixNano()))
	return nil
}

// DecodePayload reads a payload written by EncodePayload
func DecodePayload(slot []byte) (tick uint64, at time.Time, err error) {
	if len(slot) < PayloadSize {
		return 0, time.Time{}, fmt.Errorf("slot of %d bytes is too small for the payload", len(slot))
	}
	tick = binary.BigEndian.Uint64(slot[0:8])
	at = time.Unix(0, int64(binary.BigEndian.Uint64(slot[8:16])))
	return tick, at, nil
}
