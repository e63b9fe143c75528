package worker

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

type MessageHandler func(ctx context.Context, payload []byte) error

// Source is a blocking message loop such as kafka.Consumer.
type Source interface {
	Consume(ctx context.Context, handler func(context.Context, []byte) error) error
}

// Subscriber is a push-style bus such as natsbus.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Tolerant logs handler failures and reports success, so one bad notification does
// not stop the consumer or get redelivered forever.
func Tolerant(handler MessageHandler, logger zerolog.Logger) MessageHandler {
	return func(ctx context.Context, payload []byte) error {
		if err := handler(ctx, payload); err != nil {
			logger.Error().Err(err).Msg("notification delivery failed")
		}
		return nil
	}
}

func ConsumeStream(ctx context.Context, src Source, handler MessageHandler) error {
	return src.Consume(ctx, handler)
}

// ConsumeSubscription subscribes and blocks until ctx is done.
func ConsumeSubscription(ctx context.Context, sub Subscriber, subject, durable string, handler MessageHandler) error {
	closer, err := sub.Subscribe(ctx, subject, durable, handler)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return closer.Close()
}
