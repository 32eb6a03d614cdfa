package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/lib/memory"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ReceiverClassConfig configures one receiver class
type ReceiverClassConfig struct {
	// Name of the class, used to look up its handle
	Name string
	// SlotLimit is the number of slots the receivers of the class may hold at the same time
	SlotLimit uint32
}

// ServerConfig holds all configuration parameters of a MemCon server.
type ServerConfig struct {
	// side channel
	Endpoint    string
	SendTimeout time.Duration

	// receivers
	Group           uint32
	MaxReceivers    int
	ReceiverClasses []ReceiverClassConfig
	DefaultClass    string

	// shared memory
	NumberOfSlots   uint32
	SlotContentSize uint32
	SlotAlignment   uint32
	QueueCapacity   uint32

	// publisher (memcon serve only)
	PublishInterval time.Duration

	// observability
	MetricsEndpoint string
	LogLevel        string
}

// DefaultServerConfig returns the configuration used by `memcon serve` without any flags
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:        "/tmp/memcon.sock",
		SendTimeout:     5 * time.Millisecond,
		MaxReceivers:    16,
		ReceiverClasses: []ReceiverClassConfig{{Name: "default", SlotLimit: 4}},
		DefaultClass:    "default",
		NumberOfSlots:   16,
		SlotContentSize: 4096,
		PublishInterval: time.Second,
		LogLevel:        "info",
	}
}

// SlotConfiguration returns the layout of the slot region
func (c *ServerConfig) SlotConfiguration() memory.SlotConfiguration {
	return memory.SlotConfiguration{
		NumberOfSlots:   c.NumberOfSlots,
		SlotContentSize: c.SlotContentSize,
		Alignment:       c.SlotAlignment,
	}
}

// QueueConfiguration returns the layout of the per receiver queues. A zero QueueCapacity means one
// entry per slot
func (c *ServerConfig) QueueConfiguration() memory.QueueConfiguration {
	capacity := c.QueueCapacity
	if capacity == 0 {
		capacity = c.NumberOfSlots
	}
	return memory.QueueConfiguration{NumberOfElements: capacity}
}

// LogicConfiguration converts the configuration into the logic engine configuration
func (c *ServerConfig) LogicConfiguration() logic.Configuration {
	classes := make([]logic.ClassConfiguration, 0, len(c.ReceiverClasses))
	for _, rc := range c.ReceiverClasses {
		classes = append(classes, logic.ClassConfiguration{Name: rc.Name, SlotLimit: rc.SlotLimit})
	}
	return logic.Configuration{
		Slots:        c.SlotConfiguration(),
		Queue:        c.QueueConfiguration(),
		Classes:      classes,
		MaxReceivers: c.MaxReceivers,
	}
}

// Validate checks the parts of the configuration the server depends on
func (c *ServerConfig) Validate() error {
	if c.MaxReceivers <= 0 {
		return fmt.Errorf("max receivers must be greater than zero")
	}
	if len(c.ReceiverClasses) == 0 {
		return fmt.Errorf("at least one receiver class is required")
	}
	if err := c.SlotConfiguration().Validate(); err != nil {
		return err
	}
	return c.QueueConfiguration().Validate()
}

// ParseReceiverClasses parses a comma-separated list of NAME=LIMIT pairs (e.g. "video=4,audio=2")
func ParseReceiverClasses(s string) ([]ReceiverClassConfig, error) {
	var classes []ReceiverClassConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.Split(part, "=")
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid receiver class format: %s (expected NAME=LIMIT)", part)
		}
		limit, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid slot limit for class %s: %v", kv[0], err)
		}
		classes = append(classes, ReceiverClassConfig{Name: strings.TrimSpace(kv[0]), SlotLimit: uint32(limit)})
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("no receiver classes given")
	}
	return classes, nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Side Channel")
	addField("Endpoint", c.Endpoint)
	addField("Send Timeout", c.SendTimeout.String())

	addSection("Shared Memory")
	slots := c.SlotConfiguration()
	addField("Number of Slots", strconv.FormatUint(uint64(c.NumberOfSlots), 10))
	addField("Slot Content Size", fmt.Sprintf("%d bytes", c.SlotContentSize))
	addField("Slot Stride", fmt.Sprintf("%d bytes", slots.Stride()))
	addField("Slot Region", fmt.Sprintf("%d bytes", slots.Size()))
	addField("Queue Capacity", strconv.FormatUint(uint64(c.QueueConfiguration().NumberOfElements), 10))

	addSection("Receivers")
	addField("Group", strconv.FormatUint(uint64(c.Group), 10))
	addField("Max Receivers", strconv.Itoa(c.MaxReceivers))
	addField("Default Class", c.DefaultClass)
	for _, rc := range c.ReceiverClasses {
		addField("Class "+rc.Name, fmt.Sprintf("limit %d", rc.SlotLimit))
	}

	addSection("Publisher")
	addField("Interval", c.PublishInterval.String())

	addSection("Observability")
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Receiver configuration struct
// --------------------------------------------------------------------------

// ReceiverConfig holds the configuration of a receiver process
type ReceiverConfig struct {
	Endpoint    string
	SendTimeout time.Duration
	LogLevel    string
}

// String returns a formatted string representation of the receiver configuration
func (c *ReceiverConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Receiver")
	addField("Endpoint", c.Endpoint)
	addField("Send Timeout", c.SendTimeout.String())
	addField("Log Level", c.LogLevel)

	return sb.String()
}
