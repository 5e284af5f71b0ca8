package core

import (
	"github.com/klauspost/reedsolomon"
)

// DurabilityLevel selects how many Reed-Solomon parity blocks a CBL's data
// blocks are protected by. The specification records two divergent
// DurabilityLevel definitions (a string enum and an integer-mapped
// equivalent); this implementation uses the string form per the stricter
// reading adopted throughout.
type DurabilityLevel string

const (
	DurabilityEphemeral      DurabilityLevel = "ephemeral"
	DurabilityStandard       DurabilityLevel = "standard"
	DurabilityHighDurability DurabilityLevel = "high_durability"
)

// ParityCount returns the number of parity shards a durability level
// implies. highDurabilityParity is the deployment-configured parity count
// for DurabilityHighDurability; values below 2 are raised to 2.
func ParityCount(level DurabilityLevel, highDurabilityParity int) (int, error) {
	switch level {
	case DurabilityEphemeral:
		return 0, nil
	case DurabilityStandard:
		return 1, nil
	case DurabilityHighDurability:
		if highDurabilityParity < 2 {
			highDurabilityParity = 2
		}
		return highDurabilityParity, nil
	default:
		return 0, NewError(ErrInvalidBlockType, "durabilityLevel", nil)
	}
}

// EncodeParity derives parityCount Reed-Solomon parity shards from
// dataShards, one shard per data block of a CBL's content set. All shards
// must share the same length (the deployment's block size).
func EncodeParity(dataShards [][]byte, parityCount int) ([][]byte, error) {
	if parityCount <= 0 {
		return nil, nil
	}
	enc, err := reedsolomon.New(len(dataShards), parityCount)
	if err != nil {
		return nil, NewError(ErrStorageFailed, "fec", err)
	}
	shardSize := len(dataShards[0])
	shards := make([][]byte, len(dataShards)+parityCount)
	copy(shards, dataShards)
	for i := len(dataShards); i < len(shards); i++ {
		shards[i] = make([]byte, shardSize)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, NewError(ErrStorageFailed, "fec", err)
	}
	return shards[len(dataShards):], nil
}

// Reconstruct rebuilds missing/corrupt shards in place. shards must have
// length dataCount+parityCount; entries that are missing or known-corrupt
// must be nil on entry. It fails with ErrUnrecoverableLoss if more shards
// are missing than parityCount can repair.
func Reconstruct(shards [][]byte, dataCount, parityCount int) error {
	missing := 0
	for _, s := range shards {
		if s == nil {
			missing++
		}
	}
	if missing > parityCount {
		return NewError(ErrUnrecoverableLoss, "", nil)
	}
	if missing == 0 {
		return nil
	}
	enc, err := reedsolomon.New(dataCount, parityCount)
	if err != nil {
		return NewError(ErrStorageFailed, "fec", err)
	}
	if err := enc.Reconstruct(shards); err != nil {
		return NewError(ErrUnrecoverableLoss, "", err)
	}
	return nil
}
