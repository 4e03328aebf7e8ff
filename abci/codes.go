package abci

import (
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/tendermint/tendermint/abci/example/code"
)

// Result codes beyond the tendermint example set, one per failure kind
const (
	CodeTypeHeaderRejected uint32 = iota + 10
	CodeTypeProofRejected
	CodeTypeCollateralViolation
	CodeTypeRequestLifecycleViolation
	CodeTypeVaultStateViolation
	CodeTypeOracleUnavailable
	CodeTypeInvariantBreach
)

// CodeFor : maps an error to the ABCI result code reported to clients
func CodeFor(err error) uint32 {
	if err == nil {
		return code.CodeTypeOK
	}
	switch types.KindOf(err) {
	case types.KindHeaderRejected:
		return CodeTypeHeaderRejected
	case types.KindProofRejected:
		return CodeTypeProofRejected
	case types.KindCollateralViolation:
		return CodeTypeCollateralViolation
	case types.KindRequestLifecycleViolation:
		if types.CodeOf(err) == types.ErrUnauthorizedCaller.Code {
			return code.CodeTypeUnauthorized
		}
		return CodeTypeRequestLifecycleViolation
	case types.KindVaultStateViolation:
		return CodeTypeVaultStateViolation
	case types.KindOracleUnavailable:
		return CodeTypeOracleUnavailable
	case types.KindInvariantBreach:
		return CodeTypeInvariantBreach
	case types.KindBadRequest:
		switch types.CodeOf(err) {
		case types.ErrInvalidSignature.Code:
			return code.CodeTypeUnauthorized
		case types.ErrBadNonce.Code:
			return code.CodeTypeBadNonce
		}
		return code.CodeTypeEncodingError
	}
	return code.CodeTypeUnknownError
}
