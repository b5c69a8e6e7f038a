package indexer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"chgnet/storage"
)

// ErrMalformedLog is returned when a log matches a known event signature but
// its payload cannot be decoded.
var ErrMalformedLog = errors.New("indexer: malformed log")

// Canonical event signatures per contract.
var (
	sigRevenuePosted     = ethcrypto.Keccak256Hash([]byte("RevenuePosted(uint256,address,uint256,uint256,bytes32,bytes)"))
	sigOracleUpdated     = ethcrypto.Keccak256Hash([]byte("OracleUpdated(address,bool)"))
	sigRevenueSplit      = ethcrypto.Keccak256Hash([]byte("RevenueSplit(uint256,uint256,uint256,uint256,uint256,uint256)"))
	sigMerkleRootSet     = ethcrypto.Keccak256Hash([]byte("MerkleRootSet(uint256,uint8,bytes32)"))
	sigStaked            = ethcrypto.Keccak256Hash([]byte("Staked(address,uint256,uint256,uint256)"))
	sigUnstaked          = ethcrypto.Keccak256Hash([]byte("Unstaked(address,uint256)"))
	sigClaimed           = ethcrypto.Keccak256Hash([]byte("Claimed(address,uint256,uint256)"))
	sigRewardAccrued     = ethcrypto.Keccak256Hash([]byte("RewardAccrued(address,uint256,uint256)"))
	sigTransfer          = ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	sigStakedL1          = ethcrypto.Keccak256Hash([]byte("StakedL1(address,uint256,uint256)"))
	sigUnstakedL1        = ethcrypto.Keccak256Hash([]byte("UnstakedL1(address,uint256,uint256)"))
	sigOwnerShareUpdated = ethcrypto.Keccak256Hash([]byte("OwnerShareUpdated(uint256,uint256,uint256,uint256,uint256)"))
)

type decoderFunc func(types.Log, Raw) (Event, error)

var contractDecoders = map[string]map[common.Hash]decoderFunc{
	ContractRevenuePool: {
		sigRevenuePosted: decodeRevenuePosted,
		sigOracleUpdated: decodeOracleUpdated,
	},
	ContractRevenueSplitter: {
		sigRevenueSplit:  decodeRevenueSplit,
		sigMerkleRootSet: decodeMerkleRootSet,
	},
	ContractCHGStaking: {
		sigStaked:        decodeStaked,
		sigUnstaked:      decodeUnstaked,
		sigClaimed:       decodeClaimed,
		sigRewardAccrued: decodeRewardAccrued,
	},
	ContractNFTClaw: {
		sigTransfer:          decodeTransfer,
		sigStakedL1:          decodeStakedL1(true),
		sigUnstakedL1:        decodeStakedL1(false),
		sigOwnerShareUpdated: decodeOwnerShareUpdated,
	},
}

// KnownContract reports whether the indexer decodes events for the named
// contract.
func KnownContract(name string) bool {
	_, ok := contractDecoders[name]
	return ok
}

// DecodeLog translates one raw ledger log into its typed event. The block
// timestamp is supplied by the caller, which resolves it once per block. A
// log whose topic does not match any known event of the contract decodes to
// (nil, nil); the caller logs and moves on.
func DecodeLog(contract string, log types.Log, blockTime uint64) (Event, error) {
	decoders, ok := contractDecoders[contract]
	if !ok {
		return nil, fmt.Errorf("%w: unknown contract %q", ErrMalformedLog, contract)
	}
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: log without topics", ErrMalformedLog)
	}
	decode, ok := decoders[log.Topics[0]]
	if !ok {
		return nil, nil
	}
	raw := rawFromLog(log)
	raw.BlockTime = blockTime
	return decode(log, raw)
}

func decodeRevenuePosted(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 3); err != nil {
		return nil, err
	}
	machineID, err := wordU64(log.Data, 0)
	if err != nil {
		return nil, err
	}
	total, err := wordBig(log.Data, 1)
	if err != nil {
		return nil, err
	}
	root, err := wordBytes32(log.Data, 2)
	if err != nil {
		return nil, err
	}
	signature, err := dynamicBytes(log.Data, 3)
	if err != nil {
		return nil, err
	}
	epochID, err := topicU64(log.Topics[1])
	if err != nil {
		return nil, err
	}
	return RevenuePostedEvent{
		Raw:          raw,
		EpochID:      epochID,
		Oracle:       topicAddress(log.Topics[2]),
		MachineID:    machineID,
		TotalRevenue: total,
		MerkleRoot:   root,
		Signature:    signature,
	}, nil
}

func decodeOracleUpdated(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	allowed, err := wordBool(log.Data, 0)
	if err != nil {
		return nil, err
	}
	return OracleUpdatedEvent{
		Raw:     raw,
		Signer:  topicAddress(log.Topics[1]),
		Allowed: allowed,
	}, nil
}

func decodeRevenueSplit(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	epochID, err := topicU64(log.Topics[1])
	if err != nil {
		return nil, err
	}
	pools := make([]*big.Int, 5)
	for i := range pools {
		pool, err := wordBig(log.Data, i)
		if err != nil {
			return nil, err
		}
		pools[i] = pool
	}
	return RevenueSplitEvent{
		Raw:     raw,
		EpochID: epochID,
		ToOPC:   pools[0],
		ToAlpha: pools[1],
		ToBeta:  pools[2],
		ToGamma: pools[3],
		ToDelta: pools[4],
	}, nil
}

func decodeMerkleRootSet(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	epochID, err := topicU64(log.Topics[1])
	if err != nil {
		return nil, err
	}
	group, err := wordU64(log.Data, 0)
	if err != nil {
		return nil, err
	}
	if group > uint64(storage.GroupNFTL2) {
		return nil, fmt.Errorf("%w: merkle group %d", ErrMalformedLog, group)
	}
	root, err := wordBytes32(log.Data, 1)
	if err != nil {
		return nil, err
	}
	return MerkleRootSetEvent{
		Raw:     raw,
		EpochID: epochID,
		Group:   storage.MerkleGroup(group),
		Root:    root,
	}, nil
}

func decodeStaked(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	amount, err := wordBig(log.Data, 0)
	if err != nil {
		return nil, err
	}
	lockDuration, err := wordU64(log.Data, 1)
	if err != nil {
		return nil, err
	}
	weight, err := wordU64(log.Data, 2)
	if err != nil {
		return nil, err
	}
	return StakedEvent{
		Raw:          raw,
		Staker:       topicAddress(log.Topics[1]),
		Amount:       amount,
		LockDuration: lockDuration,
		WeightBps:    weight,
	}, nil
}

func decodeUnstaked(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	amount, err := wordBig(log.Data, 0)
	if err != nil {
		return nil, err
	}
	return UnstakedEvent{
		Raw:    raw,
		Staker: topicAddress(log.Topics[1]),
		Amount: amount,
	}, nil
}

func decodeClaimed(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	epochID, err := wordU64(log.Data, 0)
	if err != nil {
		return nil, err
	}
	amount, err := wordBig(log.Data, 1)
	if err != nil {
		return nil, err
	}
	return ClaimedEvent{
		Raw:     raw,
		Staker:  topicAddress(log.Topics[1]),
		EpochID: epochID,
		Amount:  amount,
	}, nil
}

func decodeRewardAccrued(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	epochID, err := wordU64(log.Data, 0)
	if err != nil {
		return nil, err
	}
	amount, err := wordBig(log.Data, 1)
	if err != nil {
		return nil, err
	}
	return RewardAccruedEvent{
		Raw:     raw,
		Staker:  topicAddress(log.Topics[1]),
		EpochID: epochID,
		Amount:  amount,
	}, nil
}

func decodeTransfer(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 4); err != nil {
		return nil, err
	}
	tokenID, err := topicU64(log.Topics[3])
	if err != nil {
		return nil, err
	}
	return TransferEvent{
		Raw:     raw,
		From:    topicAddress(log.Topics[1]),
		To:      topicAddress(log.Topics[2]),
		TokenID: tokenID,
	}, nil
}

func decodeStakedL1(staked bool) decoderFunc {
	return func(log types.Log, raw Raw) (Event, error) {
		if err := needTopics(log, 2); err != nil {
			return nil, err
		}
		tokenID, err := wordU64(log.Data, 0)
		if err != nil {
			return nil, err
		}
		machineID, err := wordU64(log.Data, 1)
		if err != nil {
			return nil, err
		}
		return L1StakeEvent{
			Raw:       raw,
			Staked:    staked,
			Account:   topicAddress(log.Topics[1]),
			TokenID:   tokenID,
			MachineID: machineID,
		}, nil
	}
}

func decodeOwnerShareUpdated(log types.Log, raw Raw) (Event, error) {
	if err := needTopics(log, 2); err != nil {
		return nil, err
	}
	tokenID, err := topicU64(log.Topics[1])
	if err != nil {
		return nil, err
	}
	fields := make([]uint64, 4)
	for i := range fields {
		value, err := wordU64(log.Data, i)
		if err != nil {
			return nil, err
		}
		fields[i] = value
	}
	return OwnerShareUpdatedEvent{
		Raw:         raw,
		TokenID:     tokenID,
		MachineID:   fields[0],
		ShareBps:    fields[1],
		TotalSupply: fields[2],
		ExpiresAt:   fields[3],
	}, nil
}

func needTopics(log types.Log, n int) error {
	if len(log.Topics) < n {
		return fmt.Errorf("%w: expected %d topics, got %d", ErrMalformedLog, n, len(log.Topics))
	}
	return nil
}

func topicU64(topic common.Hash) (uint64, error) {
	value := new(big.Int).SetBytes(topic.Bytes())
	if !value.IsUint64() {
		return 0, fmt.Errorf("%w: topic value out of uint64 range", ErrMalformedLog)
	}
	return value.Uint64(), nil
}

func topicAddress(topic common.Hash) [20]byte {
	return common.BytesToAddress(topic.Bytes())
}

func word(data []byte, index int) ([]byte, error) {
	start := index * 32
	if start < 0 || start+32 > len(data) {
		return nil, fmt.Errorf("%w: data word %d out of range", ErrMalformedLog, index)
	}
	return data[start : start+32], nil
}

func wordBig(data []byte, index int) (*big.Int, error) {
	w, err := word(data, index)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

func wordU64(data []byte, index int) (uint64, error) {
	value, err := wordBig(data, index)
	if err != nil {
		return 0, err
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("%w: data word %d out of uint64 range", ErrMalformedLog, index)
	}
	return value.Uint64(), nil
}

func wordBool(data []byte, index int) (bool, error) {
	value, err := wordBig(data, index)
	if err != nil {
		return false, err
	}
	return value.Sign() != 0, nil
}

func wordBytes32(data []byte, index int) ([32]byte, error) {
	var out [32]byte
	w, err := word(data, index)
	if err != nil {
		return out, err
	}
	copy(out[:], w)
	return out, nil
}

func dynamicBytes(data []byte, offsetWord int) ([]byte, error) {
	offset, err := wordU64(data, offsetWord)
	if err != nil {
		return nil, err
	}
	// Subtraction order keeps hostile offset/length words from wrapping the
	// bounds arithmetic.
	size := uint64(len(data))
	if offset > size || size-offset < 32 {
		return nil, fmt.Errorf("%w: bytes offset out of range", ErrMalformedLog)
	}
	length := new(big.Int).SetBytes(data[offset : offset+32])
	if !length.IsUint64() || length.Uint64() > size-offset-32 {
		return nil, fmt.Errorf("%w: bytes payload truncated", ErrMalformedLog)
	}
	n := length.Uint64()
	out := make([]byte, n)
	copy(out, data[offset+32:offset+32+n])
	return out, nil
}
