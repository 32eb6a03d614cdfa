// Package transporttest provides a scriptable side-channel connection for tests.
package transporttest

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/serializer"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/stretchr/testify/mock"
)

// Sent is one message passed to MockConnection.Send
type Sent struct {
	Msg       common.Message
	HasHandle bool
	// Handle is the handle passed to Send. The sender may have closed it since
	Handle memory.IExchangeHandle
}

// MockConnection implements transport.IConnection. Send and Close are recorded with testify's mock,
// inbound messages are injected with Deliver
type MockConnection struct {
	mock.Mock

	serializer serializer.IMessageSerializer

	mu       sync.Mutex
	callback transport.ReceiveFunc
	sent     []Sent

	// InUse is returned by IsInUse
	InUse atomic.Bool
}

// NewMockConnection creates a connection whose sends and close succeed
func NewMockConnection(s serializer.IMessageSerializer) *MockConnection {
	m := &MockConnection{serializer: s}
	m.On("Send", mock.Anything, mock.Anything).Return(nil)
	m.On("Close").Return(nil)
	return m
}

// SetSendError makes every following Send return err (nil restores success)
func (m *MockConnection) SetSendError(err error) {
	m.ExpectedCalls = slices.DeleteFunc(m.ExpectedCalls, func(c *mock.Call) bool { return c.Method == "Send" })
	m.On("Send", mock.Anything, mock.Anything).Return(err)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (m *MockConnection) Send(msg []byte, handle memory.IExchangeHandle) error {
	args := m.Called(msg, handle)
	if err := args.Error(0); err != nil {
		return err
	}

	var decoded common.Message
	if err := m.serializer.Deserialize(msg, &decoded); err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.sent = append(m.sent, Sent{Msg: decoded, HasHandle: handle != nil, Handle: handle})
	m.mu.Unlock()
	return nil
}

func (m *MockConnection) SetReceiveCallback(fn transport.ReceiveFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

func (m *MockConnection) Close() error {
	return m.Called().Error(0)
}

func (m *MockConnection) IsInUse() bool {
	return m.InUse.Load()
}

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// Started reports whether a receive callback was installed
func (m *MockConnection) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callback != nil
}

// Deliver calls the receive callback synchronously with msg encoded by the connection's serializer
func (m *MockConnection) Deliver(msg *common.Message, handle memory.IExchangeHandle) {
	b, err := m.serializer.Serialize(*msg)
	if err != nil {
		panic(err)
	}
	m.DeliverRaw(b, handle, nil)
}

// DeliverRaw calls the receive callback synchronously
func (m *MockConnection) DeliverRaw(b []byte, handle memory.IExchangeHandle, err error) {
	m.mu.Lock()
	fn := m.callback
	m.mu.Unlock()
	if fn == nil {
		panic("transporttest: no receive callback set")
	}
	fn(b, handle, err)
}

// Sent returns the successfully sent messages in order
func (m *MockConnection) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// SentTypes returns the types of the successfully sent messages in order
func (m *MockConnection) SentTypes() []common.MessageType {
	sent := m.Sent()
	types := make([]common.MessageType, len(sent))
	for i, s := range sent {
		types[i] = s.Msg.MsgType
	}
	return types
}

// --------------------------------------------------------------------------
// Exchange Handle
// --------------------------------------------------------------------------

// Handle is an exchange handle that only tracks whether it was closed
type Handle struct {
	closed atomic.Bool
}

func (h *Handle) Fd() int {
	return -1
}

func (h *Handle) Close() error {
	h.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (h *Handle) Closed() bool {
	return h.closed.Load()
}
