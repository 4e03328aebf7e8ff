package util

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/chainpoint/chainpoint-bridge/types"
)

// LogError : Log error if it exists
func LogError(err error) error {
	if err != nil {
		fmt.Println(err)
	}
	return err
}

// LoggerError : Log error if it exists using a logger
func LoggerError(logger log.Logger, err error) error {
	if err != nil {
		logger.Error(fmt.Sprintf("Error in %s: %s", GetCurrentFuncName(2), err.Error()))
	}
	return err
}

// GetEnv : get environment variable or default
func GetEnv(key string, def string) string {
	val, exists := os.LookupEnv(key)
	if !exists {
		return def
	}
	return val
}

// GetCurrentFuncName : get name of function being called
func GetCurrentFuncName(numCallStack int) string {
	pc, _, _, _ := runtime.Caller(numCallStack)
	return fmt.Sprintf("%s", runtime.FuncForPC(pc).Name())
}

func ArrayContains(arr []string, item string) bool {
	for _, v := range arr {
		if v == item {
			return true
		}
	}
	return false
}

// GenerateKey : new secp256k1 signing key
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// ParseKey : loads a signing key from its hex encoding
func ParseKey(hexKey string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes", btcec.PrivKeyBytesLen)
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

// AccountOf : the account identity of a signing key, its hex compressed public key
func AccountOf(key *btcec.PrivateKey) types.Account {
	return types.Account(hex.EncodeToString(key.PubKey().SerializeCompressed()))
}

// DecodeTx accepts a bridge transaction in base64 and decodes it into a types.Tx struct
func DecodeTx(incoming []byte) (types.Tx, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(incoming))
	if err != nil {
		return types.Tx{}, err
	}
	var tx types.Tx
	err = json.Unmarshal(decoded, &tx)
	return tx, err
}

func sigHash(tx types.Tx) ([]byte, error) {
	tx.Sig = ""
	txNoSig, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(txNoSig)
	return hash[:], nil
}

// DecodeTxAndVerifySig decodes a base64 transaction and checks that its sender signed it
func DecodeTxAndVerifySig(incoming []byte) (types.Tx, error) {
	tx, err := DecodeTx(incoming)
	if err != nil {
		return types.Tx{}, err
	}
	pubBytes, err := hex.DecodeString(string(tx.Sender))
	if err != nil {
		return types.Tx{}, fmt.Errorf("sender is not a hex public key: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return types.Tx{}, err
	}
	der, err := base64.StdEncoding.DecodeString(tx.Sig)
	if err != nil {
		return types.Tx{}, err
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return types.Tx{}, err
	}
	hash, err := sigHash(tx)
	if err != nil {
		return types.Tx{}, err
	}
	if !sig.Verify(hash, pubKey) {
		return types.Tx{}, errors.New(fmt.Sprintf("Can't validate signature of Tx from %s", tx.Sender))
	}
	return tx, nil
}

// EncodeTxWithKey : signs a transaction as the key's account and encodes it to base64
func EncodeTxWithKey(outgoing types.Tx, privateKey *btcec.PrivateKey) (string, error) {
	outgoing.Sender = AccountOf(privateKey)
	hash, err := sigHash(outgoing)
	if err != nil {
		return "", err
	}
	outgoing.Sig = base64.StdEncoding.EncodeToString(ecdsa.Sign(privateKey, hash).Serialize())
	return EncodeTx(outgoing), nil
}

// EncodeTx : encode a tx to base64
func EncodeTx(outgoing types.Tx) string {
	txJSON, _ := json.Marshal(outgoing)
	return base64.StdEncoding.EncodeToString(txJSON)
}

// EncodeMsg : builds a transaction of txType carrying msg as JSON data
func EncodeMsg(txType string, msg interface{}, nonce uint64, unixTime int64) (types.Tx, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return types.Tx{}, err
	}
	return types.Tx{TxType: txType, Data: string(data), Nonce: nonce, Time: unixTime}, nil
}
