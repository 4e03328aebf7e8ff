package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chainpoint/chainpoint-bridge/database/level"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	r, err := ParseRate("2.5")
	assert.NoError(t, err)
	assert.Equal(t, "5/2", r.String())
	r, err = ParseRate("3/4")
	assert.NoError(t, err)
	assert.Equal(t, "3/4", r.String())
	for _, bad := range []string{"", "abc", "0", "-1"} {
		_, err := ParseRate(bad)
		assert.Error(t, err, bad)
	}
}

func TestStaticFeed(t *testing.T) {
	f := NewStaticFeed()
	_, err := f.GetExchangeRate(types.WrappedToCollateral)
	assert.True(t, errors.Is(err, types.ErrOracleUnavailable))
	require.NoError(t, f.Set(types.WrappedToCollateral, "10"))
	r, err := f.GetExchangeRate(types.WrappedToCollateral)
	assert.NoError(t, err)
	r.SetInt64(99)
	again, _ := f.GetExchangeRate(types.WrappedToCollateral)
	assert.Equal(t, "10/1", again.String(), "callers get a copy")
	f.Clear(types.WrappedToCollateral)
	_, err = f.GetExchangeRate(types.WrappedToCollateral)
	assert.Equal(t, types.KindOracleUnavailable, types.KindOf(err))
}

func TestStoreFeedAuthorizationAndStaleness(t *testing.T) {
	assert := assert.New(t)
	kv := level.NewMemKV()
	cfg := types.OracleConfig{Accounts: []types.Account{"oracle"}, MaxAge: 10}

	feed := NewStoreFeed(kv, 100, cfg)
	err := feed.SetRate("mallory", types.WrappedToCollateral, "5")
	assert.True(errors.Is(err, types.ErrUnauthorizedCaller))
	err = feed.SetRate("oracle", types.WrappedToCollateral, "-5")
	assert.True(errors.Is(err, types.ErrMalformedTx))
	assert.NoError(feed.SetRate("oracle", types.WrappedToCollateral, "5"))

	rate, err := NewStoreFeed(kv, 110, cfg).GetExchangeRate(types.WrappedToCollateral)
	assert.NoError(err)
	assert.Equal("5/1", rate.String())

	_, err = NewStoreFeed(kv, 111, cfg).GetExchangeRate(types.WrappedToCollateral)
	assert.True(errors.Is(err, types.ErrOracleUnavailable))

	_, err = feed.GetExchangeRate(types.CurrencyPair{Base: "ETH", Quote: "DOT"})
	assert.True(errors.Is(err, types.ErrOracleUnavailable))
}

func TestHTTPFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pair") {
		case "BTC/DOT":
			w.Write([]byte(`{"rate": "2345.5"}`))
		case "BTC/KSM":
			w.Write([]byte(`{"rate": "nope"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.URL, time.Second)
	rate, err := feed.FetchRate(context.Background(), types.WrappedToCollateral)
	assert.NoError(t, err)
	assert.Equal(t, "2345.5", rate)

	_, err = feed.FetchRate(context.Background(), types.CurrencyPair{Base: "BTC", Quote: "KSM"})
	assert.True(t, errors.Is(err, types.ErrOracleUnavailable))
	_, err = feed.FetchRate(context.Background(), types.CurrencyPair{Base: "BTC", Quote: "ETH"})
	assert.True(t, errors.Is(err, types.ErrOracleUnavailable))
}

func TestNewSource(t *testing.T) {
	_, err := NewSource(types.OracleConfig{})
	assert.Error(t, err)
	src, err := NewSource(types.OracleConfig{FeedURL: "http://localhost:1"})
	assert.NoError(t, err)
	assert.IsType(t, &HTTPFeed{}, src)
	src, err = NewSource(types.OracleConfig{RedisAddr: "localhost:6379", RedisKey: "k"})
	assert.NoError(t, err)
	assert.IsType(t, &RedisFeed{}, src)
}
