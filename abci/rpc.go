package abci

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/util"
	"github.com/tendermint/tendermint/abci/example/code"
	"github.com/tendermint/tendermint/libs/log"
	rpchttp "github.com/tendermint/tendermint/rpc/client/http"
	core_types "github.com/tendermint/tendermint/rpc/core/types"
)

// RPC : hold abstract http client for mocking purposes
type RPC struct {
	client *rpchttp.HTTP
	logger log.Logger
	mu     sync.Mutex
	nonce  uint64
}

// NewRPCClient : Creates a new client connected to a tendermint instance at web socket "tendermintRPC"
func NewRPCClient(tendermintRPC types.TendermintConfig, logger log.Logger) (*RPC, error) {
	c, err := rpchttp.NewWithTimeout(fmt.Sprintf("http://%s:%s", tendermintRPC.TMServer, tendermintRPC.TMPort), "/websocket", 2)
	if err != nil {
		return nil, err
	}
	return &RPC{
		client: c,
		logger: logger,
	}, nil
}

// LogError : log tendermintRpc errors
func (rpc *RPC) LogError(err error) error {
	if err != nil {
		rpc.logger.Error(fmt.Sprintf("Error in %s: %s", util.GetCurrentFuncName(2), err.Error()))
	}
	return err
}

// nextNonce : wall clock nanoseconds, forced strictly above the previous nonce
func (rpc *RPC) nextNonce() uint64 {
	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	n := uint64(time.Now().UnixNano())
	if n <= rpc.nonce {
		n = rpc.nonce + 1
	}
	rpc.nonce = n
	return n
}

// BroadcastTx : Synchronously broadcasts a signed bridge transaction to the local Tendermint node
func (rpc *RPC) BroadcastTx(txType string, msg interface{}, privateKey *btcec.PrivateKey) (core_types.ResultBroadcastTx, error) {
	tx, err := util.EncodeMsg(txType, msg, rpc.nextNonce(), time.Now().Unix())
	if err != nil {
		return core_types.ResultBroadcastTx{}, err
	}
	encoded, err := util.EncodeTxWithKey(tx, privateKey)
	if err != nil {
		return core_types.ResultBroadcastTx{}, err
	}
	result, err := rpc.client.BroadcastTxSync([]byte(encoded))
	if rpc.LogError(err) != nil {
		return core_types.ResultBroadcastTx{}, err
	}
	if result.Code != code.CodeTypeOK {
		return *result, rpc.LogError(fmt.Errorf("%s rejected with code %d: %s", txType, result.Code, result.Log))
	}
	return *result, nil
}

// GetStatus retrieves status of our node.
func (rpc *RPC) GetStatus() (core_types.ResultStatus, error) {
	if rpc == nil {
		return core_types.ResultStatus{}, errors.New("tendermintRpc failure")
	}
	status, err := rpc.client.Status()
	if rpc.LogError(err) != nil {
		return core_types.ResultStatus{}, err
	}
	return *status, err
}

// GetGenesis : retrieves genesis file for initialization
func (rpc *RPC) GetGenesis() (core_types.ResultGenesis, error) {
	resp, err := rpc.client.Genesis()
	if rpc.LogError(err) != nil {
		return core_types.ResultGenesis{}, err
	}
	return *resp, nil
}

// Query : runs an application query and decodes its JSON result into v
func (rpc *RPC) Query(path string, v interface{}) error {
	resp, err := rpc.client.ABCIQuery(path, nil)
	if rpc.LogError(err) != nil {
		return err
	}
	if resp.Response.Code != code.CodeTypeOK {
		return fmt.Errorf("query %s failed with code %d: %s", path, resp.Response.Code, resp.Response.Log)
	}
	return json.Unmarshal(resp.Response.Value, v)
}

// GetBridgeInfo retrieves the BridgeState reported by the application's Info
func (rpc *RPC) GetBridgeInfo() (types.BridgeState, error) {
	resp, err := rpc.client.ABCIInfo()
	if rpc.LogError(err) != nil {
		return types.BridgeState{}, err
	}
	var state types.BridgeState
	if err := json.Unmarshal([]byte(resp.Response.Data), &state); rpc.LogError(err) != nil {
		return types.BridgeState{}, err
	}
	return state, nil
}
