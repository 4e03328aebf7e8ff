package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/go-redis/redis"
	"github.com/go-resty/resty/v2"
)

// Source : an off-ledger rate provider polled by the rate monitor before it broadcasts RATE transactions
type Source interface {
	FetchRate(ctx context.Context, pair types.CurrencyPair) (string, error)
}

// HTTPFeed : fetches {"rate": "<decimal>"} from a price service, passing the pair as a query parameter
type HTTPFeed struct {
	client *resty.Client
	url    string
}

type rateResponse struct {
	Rate string `json:"rate"`
}

func NewHTTPFeed(url string, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{
		client: resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
		url:    url,
	}
}

func (f *HTTPFeed) FetchRate(ctx context.Context, pair types.CurrencyPair) (string, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("pair", pair.String()).
		Get(f.url)
	if err != nil {
		return "", types.Wrap(types.ErrOracleUnavailable, "%s", err.Error())
	}
	if resp.IsError() {
		return "", types.Wrap(types.ErrOracleUnavailable, "price service returned %s", resp.Status())
	}
	var body rateResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", types.Wrap(types.ErrOracleUnavailable, "decoding rate: %s", err.Error())
	}
	if _, err := ParseRate(body.Rate); err != nil {
		return "", types.Wrap(types.ErrOracleUnavailable, "%s", err.Error())
	}
	return body.Rate, nil
}

// RedisFeed : reads the rate another process keeps under a redis key
type RedisFeed struct {
	client *redis.Client
	key    string
}

func NewRedisFeed(addr string, key string) *RedisFeed {
	return &RedisFeed{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

func (f *RedisFeed) FetchRate(ctx context.Context, pair types.CurrencyPair) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rate, err := f.client.Get(f.key).Result()
	if err == redis.Nil {
		return "", types.Wrap(types.ErrOracleUnavailable, "redis key %s is empty", f.key)
	} else if err != nil {
		return "", types.Wrap(types.ErrOracleUnavailable, "%s", err.Error())
	}
	if _, err := ParseRate(rate); err != nil {
		return "", types.Wrap(types.ErrOracleUnavailable, "%s", err.Error())
	}
	return rate, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

// NewSource picks the configured source, preferring the HTTP feed
func NewSource(cfg types.OracleConfig) (Source, error) {
	switch {
	case cfg.FeedURL != "":
		return NewHTTPFeed(cfg.FeedURL, cfg.Timeout), nil
	case cfg.RedisAddr != "":
		return NewRedisFeed(cfg.RedisAddr, cfg.RedisKey), nil
	}
	return nil, fmt.Errorf("no oracle feed configured")
}
