package serve

import (
	"time"

	cmdUtil "github.com/ValentinKolb/memcon/cmd/util"
	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/server"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/pkg/errors"
)

// publisher drives a server: it adds accepted connections as receivers and publishes one slot per tick
type publisher struct {
	srv     *server.Server
	class   logic.ClassHandle
	dropped *logic.DroppedInformation
	tick    uint64
}

func newPublisher(srv *server.Server, config common.ServerConfig) (*publisher, error) {
	class, err := srv.ReceiverClass(config.DefaultClass)
	if err != nil {
		return nil, err
	}
	return &publisher{
		srv:     srv,
		class:   class,
		dropped: logic.NewDroppedInformation(len(config.ReceiverClasses)),
	}, nil
}

// accept is the accept handler of the side channel transport
func (p *publisher) accept(conn transport.IConnection) {
	id, err := p.srv.AddReceiver(p.class, conn)
	if err != nil {
		cmdUtil.Logger.Warningf("Rejecting connection: %v", err)
		_ = conn.Close()
		return
	}
	if err := p.srv.ConnectReceiver(id); err != nil {
		cmdUtil.Logger.Warningf("Failed to connect receiver %s: %v", id, err)
	}
}

// publish reclaims returned slots, cleans up the receiver table and sends the next slot
func (p *publisher) publish(now time.Time) error {
	if err := p.srv.ReclaimSlots(); err != nil && !errors.Is(err, common.ErrReceiverError) {
		return err
	}
	p.cleanup()

	token, ok, err := p.srv.AcquireSlot()
	if err != nil {
		return err
	}
	if !ok {
		cmdUtil.Logger.Debugf("No free slot for tick %d", p.tick)
		return nil
	}

	slot, err := p.srv.AccessSlotContent(token)
	if err == nil {
		err = cmdUtil.EncodePayload(slot, p.tick, now)
	}
	if err != nil {
		_ = p.srv.UnacquireSlot(token)
		return err
	}

	p.dropped.Reset()
	err = p.srv.SendSlot(token, p.dropped)
	p.tick++
	if n := p.dropped.Len(); n > 0 {
		cmdUtil.Logger.Debugf("Tick %d dropped for %d classes", p.tick-1, n)
	}
	if errors.Is(err, common.ErrReceiverError) {
		cmdUtil.Logger.Warningf("Tick %d: %v", p.tick-1, err)
		return nil
	}
	return err
}

// cleanup terminates corrupted receivers and removes disconnected ones that are no longer in use
func (p *publisher) cleanup() {
	for _, id := range p.srv.ReceiverIds() {
		status, err := p.srv.GetReceiverState(id)
		if err != nil {
			continue
		}

		switch status.State {
		case server.ReceiverCorrupted:
			cmdUtil.Logger.Warningf("Terminating corrupted receiver %s: %v", id, status.Cause)
			if err := p.srv.TerminateReceiver(id); err != nil {
				cmdUtil.Logger.Warningf("Failed to terminate receiver %s: %v", id, err)
			}
		case server.ReceiverDisconnected:
			if inUse, err := p.srv.IsReceiverInUse(id); err == nil && !inUse {
				_ = p.srv.RemoveReceiver(id)
			}
		}
	}
}

// onTransition logs the transitions the receivers caused
func onTransition(id server.ReceiverId, state server.ReceiverState, cause error) {
	switch state {
	case server.ReceiverCorrupted:
		cmdUtil.Logger.Warningf("Receiver %s is %s (%s): %v", id, state, common.ErrorCodeOf(cause), cause)
	default:
		cmdUtil.Logger.Infof("Receiver %s is %s", id, state)
	}
}
