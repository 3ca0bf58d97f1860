package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/obslog"
)

const defaultNATSSubject = "matchd.relay"

// NATSBus relays envelopes over a single NATS subject. Every instance receives every
// envelope and its hub keeps only those with local subscribers.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// ConnectNATS dials url and returns a bus that closes the connection on Close.
func ConnectNATS(url string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("matchd-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				obslog.L().Warn("relay_nats_disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			obslog.L().Info("relay_nats_reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b := NewNATSBus(nc, "")
	b.owned = true
	return b, nil
}

func NewNATSBus(nc *nats.Conn, subject string) *NATSBus {
	if subject == "" {
		subject = defaultNATSSubject
	}
	return &NATSBus{nc: nc, subject: subject}
}

func (b *NATSBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := encode(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, raw)
}

func (b *NATSBus) Listen(ctx context.Context, deliver func(Envelope)) error {
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		handleNATS(m.Data, deliver)
	})
	if err != nil {
		return fmt.Errorf("nats relay subscribe: %w", err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats relay flush: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func handleNATS(data []byte, deliver func(Envelope)) {
	env, err := decode(data)
	if err != nil {
		obslog.L().Warn("relay_nats_bad_payload", zap.Error(err))
		return
	}
	deliver(env)
}

func (b *NATSBus) Close() error {
	if b.owned {
		return b.nc.Drain()
	}
	return nil
}
