package abci

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/util"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
)

const apiVersion = "0.1.0"

// BridgeStatus : response of /status
type BridgeStatus struct {
	Version          string        `json:"version"`
	Time             string        `json:"time"`
	Network          string        `json:"network"`
	Height           int64         `json:"height"`
	TxInt            int64         `json:"tx_int"`
	BestBitcoinBlock string        `json:"best_bitcoin_block,omitempty"`
	BestBitcoinTip   int64         `json:"best_bitcoin_height"`
	Halted           string        `json:"halted,omitempty"`
	Signer           types.Account `json:"signer,omitempty"`
}

func (app *BridgeApplication) HomeHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
	fmt.Fprintf(w, "This is an API endpoint. See /status")
}

// respondJSON makes the response with payload as json format
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if util.LogError(err) != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// httpStatus : not found errors map to 404, malformed input to 400, any other rejection to 422
func httpStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrRequestNotFound), errors.Is(err, types.ErrVaultNotFound),
		errors.Is(err, types.ErrHeaderUnknown), errors.Is(err, types.ErrRelayNotInitialized):
		return http.StatusNotFound
	case types.KindOf(err) == types.KindBadRequest:
		return http.StatusBadRequest
	case types.KindOf(err) == types.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, httpStatus(err), map[string]interface{}{"error": err.Error(), "code": types.CodeOf(err)})
}

// queryHandler serves the ABCI query path built from the route variables
func (app *BridgeApplication) queryHandler(pathOf func(vars map[string]string) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := app.lookup(pathOf(mux.Vars(r)))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func (app *BridgeApplication) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status := BridgeStatus{
		Version: apiVersion,
		Time:    time.Now().UTC().Format("2006-01-02T15:04:05.999Z07:00"),
		Network: app.config.Relay.Network,
		Height:  app.Engine.Height(),
		TxInt:   app.state.TxInt,
	}
	if halted := app.Engine.Halted(); halted != nil {
		status.Halted = halted.Error()
	}
	if app.signer != nil {
		status.Signer = util.AccountOf(app.signer)
	}
	err := app.Engine.View(func(ctx *core.Context) error {
		state, err := ctx.Relay.State()
		if err != nil {
			return err
		}
		status.BestBitcoinBlock = state.BestHash
		status.BestBitcoinTip = state.BestHeight
		return nil
	})
	if app.LogError(err) != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "Could not query for status"})
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func static(p string) func(map[string]string) string {
	return func(map[string]string) string { return p }
}

// NewRouter : the read API, rate limited per remote address
func (app *BridgeApplication) NewRouter() (http.Handler, error) {
	apiStore, err := memstore.New(65536)
	if err != nil {
		return nil, err
	}
	apiQuota := throttled.RateQuota{MaxRate: throttled.PerSec(15), MaxBurst: 50}
	apiLimiter, err := throttled.NewGCRARateLimiter(apiStore, apiQuota)
	if err != nil {
		return nil, err
	}
	apiRateLimiter := throttled.HTTPRateLimiter{
		RateLimiter: apiLimiter,
		VaryBy:      &throttled.VaryBy{RemoteAddr: true},
	}
	limit := func(h http.HandlerFunc) http.Handler {
		return apiRateLimiter.RateLimit(h)
	}

	r := mux.NewRouter()
	r.Handle("/", limit(app.HomeHandler))
	r.Handle("/status", limit(app.StatusHandler))
	r.Handle("/relay/best", limit(app.queryHandler(static("/relay/best"))))
	r.Handle("/relay/chains", limit(app.queryHandler(static("/relay/chains"))))
	r.Handle("/relay/headers/{hash}", limit(app.queryHandler(func(v map[string]string) string {
		return "/relay/header/" + v["hash"]
	})))
	r.Handle("/vaults", limit(app.queryHandler(static("/vaults"))))
	r.Handle("/vaults/{id}", limit(app.queryHandler(func(v map[string]string) string {
		return "/vault/" + v["id"]
	})))
	r.Handle("/vaults/{id}/health", limit(app.queryHandler(func(v map[string]string) string {
		return "/vault/" + v["id"] + "/health"
	})))
	r.Handle("/liquidation", limit(app.queryHandler(static("/liquidation"))))
	for _, kind := range []string{"issue", "redeem", "refund"} {
		kind := kind
		r.Handle("/"+kind+"/{id}", limit(app.queryHandler(func(v map[string]string) string {
			return "/" + kind + "/" + v["id"]
		})))
	}
	r.Handle("/balance/{currency}/{account}", limit(app.queryHandler(func(v map[string]string) string {
		return "/balance/" + v["currency"] + "/" + v["account"]
	})))
	r.Handle("/reputation/{account}", limit(app.queryHandler(func(v map[string]string) string {
		return "/reputation/" + v["account"]
	})))
	r.Handle("/rate", limit(app.queryHandler(static("/rate"))))
	r.Handle("/metrics", promhttp.HandlerFor(app.Engine.Metrics.Registry, promhttp.HandlerOpts{}))
	return r, nil
}
