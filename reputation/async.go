package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/chainpoint/chainpoint-bridge/threadsafe_ulid"
	"github.com/enriquebris/goconcurrentqueue"
	"github.com/go-resty/resty/v2"
	"github.com/tendermint/tendermint/libs/log"
)

// Publisher : delivers a committed event to an external reputation service
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Webhook : POSTs each event as JSON
type Webhook struct {
	client *resty.Client
	url    string
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{client: resty.New().SetTimeout(timeout), url: url}
}

func (w *Webhook) Publish(ctx context.Context, event Event) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(w.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("reputation webhook returned %s", resp.Status())
	}
	return nil
}

// AsyncSink : queues committed events and hands them to a Publisher from a background worker
type AsyncSink struct {
	queue     *goconcurrentqueue.FIFO
	publisher Publisher
	ids       *threadsafe_ulid.ThreadSafeUlid
	logger    log.Logger
}

func NewAsyncSink(publisher Publisher, logger log.Logger) *AsyncSink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &AsyncSink{
		queue:     goconcurrentqueue.NewFIFO(),
		publisher: publisher,
		ids:       threadsafe_ulid.NewThreadSafeUlid(),
		logger:    logger,
	}
}

// Enqueue stamps each event with a ULID and queues it for delivery
func (a *AsyncSink) Enqueue(events ...Event) {
	for _, event := range events {
		stamp := event.Time
		if stamp.IsZero() {
			stamp = time.Now()
		}
		id, err := a.ids.NewUlid(stamp)
		if err != nil {
			a.logger.Error("Reputation event id", "error", err.Error())
			continue
		}
		event.ID = id.String()
		if err := a.queue.Enqueue(event); err != nil {
			a.logger.Error("Reputation queue", "error", err.Error())
		}
	}
}

func (a *AsyncSink) Len() int {
	return a.queue.GetLen()
}

// Start delivers queued events until ctx is done. Delivery failures are logged and dropped.
func (a *AsyncSink) Start(ctx context.Context) {
	for {
		item, err := a.queue.DequeueOrWaitForNextElementContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("Reputation dequeue", "error", err.Error())
			continue
		}
		event, ok := item.(Event)
		if !ok {
			continue
		}
		if err := a.publisher.Publish(ctx, event); err != nil {
			a.logger.Error("Reputation publish failed", "id", event.ID, "account", event.Account, "error", err.Error())
			continue
		}
		a.logger.Debug("Reputation event published", "id", event.ID, "kind", event.Kind)
	}
}
