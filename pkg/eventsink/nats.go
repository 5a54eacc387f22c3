package eventsink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// natsConn nats.Conn 中用到的部分
type natsConn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// NATSSink 发布到 <prefix>.<type>
type NATSSink struct {
	nc     natsConn
	prefix string
}

// NewNATS 连接 NATS，断线后自动重连
func NewNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("linkup"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("eventsink: nats connect: %w", err)
	}
	return &NATSSink{nc: nc, prefix: prefix}, nil
}

func (n *NATSSink) subject(eventType string) string {
	if n.prefix == "" {
		return eventType
	}
	return n.prefix + "." + eventType
}

func (n *NATSSink) Publish(_ context.Context, event Event) error {
	body, err := event.encode()
	if err != nil {
		return err
	}
	msg := nats.NewMsg(n.subject(event.Type))
	msg.Data = body
	msg.Header.Set("Linkup-Key", event.Key())

	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("eventsink: nats publish %s: %w", event.Type, err)
	}
	return nil
}

func (n *NATSSink) Close() error {
	return n.nc.Drain()
}
