package agentmgr

import (
	"context"
	"time"

	"orchestrator/pkg/metrics"
)

const broadcastTarget = "broadcast"

// SendMessage enqueues a message onto the sender's outbox for the router to
// forward. An outbox full blocks the sender (correctness); it never drops a
// message, per spec.md §9's asymmetric backpressure policy.
func (m *Manager) SendMessage(ctx context.Context, fromID, toID, text, kind string) error {
	m.mu.RLock()
	agent, ok := m.agents[fromID]
	m.mu.RUnlock()
	if !ok {
		return ErrAgentNotFound
	}

	msg := Message{FromID: fromID, ToID: toID, Text: text, Kind: kind, SentAt: time.Now().UTC()}
	select {
	case agent.outbox <- outboundMessage{msg: msg}:
		metrics.AgentManagerQueueDepth.WithLabelValues(fromID, "outbox").Set(float64(len(agent.outbox)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// routeMessages is the single background router: it drains every agent's
// outbox and delivers onto recipient inboxes. A full recipient inbox drops
// the oldest entry and logs, per spec.md §9's asymmetric backpressure policy.
// A panic here is Internal-fatal and is deliberately not recovered.
func (m *Manager) routeMessages(ctx context.Context) {
	defer close(m.routerDone)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drainOutboxes()
		}
	}
}

func (m *Manager) drainOutboxes() {
	m.mu.RLock()
	senders := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		senders = append(senders, a)
	}
	m.mu.RUnlock()

	for _, sender := range senders {
		for drained := false; !drained; {
			select {
			case out := <-sender.outbox:
				m.deliver(out.msg)
			default:
				drained = true
			}
		}
	}
}

func (m *Manager) deliver(msg Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if msg.ToID == broadcastTarget {
		for id, a := range m.agents {
			if id == msg.FromID {
				continue
			}
			m.deliverToInbox(a, msg)
		}
		return
	}

	recipient, ok := m.agents[msg.ToID]
	if !ok {
		m.logger.Warn("dropping message from %s to unknown agent %s", msg.FromID, msg.ToID)
		return
	}
	m.deliverToInbox(recipient, msg)
}

func (m *Manager) deliverToInbox(recipient *Agent, msg Message) {
	select {
	case recipient.inbox <- inboundMessage{msg: msg}:
		metrics.AgentManagerQueueDepth.WithLabelValues(recipient.ID, "inbox").Set(float64(len(recipient.inbox)))
	default:
		select {
		case <-recipient.inbox:
			m.logger.Warn("inbox full for agent %s, dropped oldest message", recipient.ID)
		default:
		}
		select {
		case recipient.inbox <- inboundMessage{msg: msg}:
		default:
			m.logger.Warn("inbox full for agent %s, dropped incoming message from %s", recipient.ID, msg.FromID)
		}
	}
}
