package server

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics are the Prometheus metrics of one server
type serverMetrics struct {
	set *metrics.Set

	slotsAcquired        *metrics.Counter
	slotsExhausted       *metrics.Counter
	slotsSent            *metrics.Counter
	slotsUnacquired      *metrics.Counter
	reclaims             *metrics.Counter
	notificationsSent    *metrics.Counter
	notificationsDropped *metrics.Counter
	receiversAdded       *metrics.Counter
	receiversRemoved     *metrics.Counter
}

func newServerMetrics(group uint32) *serverMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`memcon_%s{group="%d"}`, metric, group)
	}

	return &serverMetrics{
		set:                  set,
		slotsAcquired:        set.NewCounter(name("slots_acquired_total")),
		slotsExhausted:       set.NewCounter(name("slots_exhausted_total")),
		slotsSent:            set.NewCounter(name("slots_sent_total")),
		slotsUnacquired:      set.NewCounter(name("slots_unacquired_total")),
		reclaims:             set.NewCounter(name("reclaims_total")),
		notificationsSent:    set.NewCounter(name("notifications_sent_total")),
		notificationsDropped: set.NewCounter(name("notifications_dropped_total")),
		receiversAdded:       set.NewCounter(name("receivers_added_total")),
		receiversRemoved:     set.NewCounter(name("receivers_removed_total")),
	}
}

// transition counts a receiver state change, labelled with the new state and the error code of its cause
func (m *serverMetrics) transition(group uint32, status ReceiverStatus) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`memcon_receiver_transitions_total{group="%d",state="%s",cause="%s"}`,
		group, strings.ToLower(status.State.String()), common.ErrorCodeOf(status.Cause))).Inc()
}

// registerGauges exposes the live values of s. Must be called once
func (m *serverMetrics) registerGauges(s *Server) {
	m.set.NewGauge(fmt.Sprintf(`memcon_outstanding_tokens{group="%d"}`, s.config.Group), func() float64 {
		return float64(s.Stats().OutstandingTokens)
	})
	for _, state := range []ReceiverState{ReceiverConnecting, ReceiverConnected, ReceiverDisconnected, ReceiverCorrupted} {
		state := state
		m.set.NewGauge(fmt.Sprintf(`memcon_receivers{group="%d",state="%s"}`, s.config.Group, strings.ToLower(state.String())), func() float64 {
			return float64(s.Stats().Receivers[state])
		})
	}
}
