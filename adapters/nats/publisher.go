// Package nats 將生命週期事件發布到NATS，供下游服務訂閱
package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"arenad/events"
)

// SubjectPrefix 事件subject的前綴，完整格式為 arena.events.<kind>.<type>.<aggregateId>
const SubjectPrefix = "arena.events"

// Conn 發布所需的最小連線介面，*nats.Conn即滿足
type Conn interface {
	Publish(subject string, data []byte) error
}

type publisherOptions struct {
	logger *slog.Logger
	prefix string
}

type PublisherOption func(*publisherOptions)

// WithPublisherLogger 設置日誌記錄器
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(o *publisherOptions) {
		o.logger = logger
	}
}

// WithPublisherPrefix 設置subject前綴
func WithPublisherPrefix(prefix string) PublisherOption {
	return func(o *publisherOptions) {
		o.prefix = prefix
	}
}

type Publisher struct {
	conn    Conn
	logger  *slog.Logger
	options publisherOptions
}

func NewPublisher(conn Conn, opts ...PublisherOption) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	options := publisherOptions{
		logger: slog.Default(),
		prefix: SubjectPrefix,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Publisher{
		conn:    conn,
		logger:  options.logger.With(slog.String("caller", "NatsPublisher")),
		options: options,
	}, nil
}

// Subject 事件對應的subject；事件類型中的點會成為subject的分段
func (p *Publisher) Subject(event events.Event) string {
	subject := p.options.prefix + "." + event.Type
	if event.AggregateID != "" {
		subject += "." + event.AggregateID
	}
	return subject
}

// Publish 實作events.Publisher，內容以msgpack編碼
func (p *Publisher) Publish(event events.Event) error {
	const op = "NatsPublisher.Publish"
	data, err := msgpack.Marshal(event)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode event, err=%w", op, err)
	}
	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("[%s] Fail to publish %s, err=%w", op, subject, err)
	}
	p.logger.Debug("event published", slog.String("subject", subject))
	return nil
}

// Decode 還原Publish送出的內容
func Decode(data []byte) (events.Event, error) {
	var event events.Event
	if err := msgpack.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("[nats.Decode] Fail to decode event, err=%w", err)
	}
	return event, nil
}

// Connect 建立會無限重連的NATS連線
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With(slog.String("caller", "NatsConn"))
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[nats.Connect] Fail to connect %s, err=%w", url, err)
	}
	return conn, nil
}
