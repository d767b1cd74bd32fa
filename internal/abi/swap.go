// Package abi decodes the concentrated-liquidity pool Swap event from raw
// EVM log topics and data. The event shape is fixed by its signature, so
// decoding is strict: any layout mismatch is a non-retryable DecodeError.
package abi

import (
	"fmt"
	"math/big"

	"evm-swap-indexer/internal/ethereum"
)

// SwapEventSignature is the canonical Swap event signature.
const SwapEventSignature = "Swap(address,address,int256,int256,uint160,uint128,int24)"

// SwapTopic is keccak256(SwapEventSignature), the topic0 all Swap logs carry.
var SwapTopic = mustHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")

// wordSize is the ABI encoding word size in bytes.
const wordSize = 32

// swapDataWords is the number of non-indexed words in the Swap event data:
// amount0, amount1, sqrtPriceX96, liquidity, tick.
const swapDataWords = 5

var (
	twoPow256  = new(big.Int).Lsh(big.NewInt(1), 256)
	maxInt256  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	minInt256  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// Tick bounds of a signed 24-bit integer.
const (
	minTick = -(1 << 23)
	maxTick = 1<<23 - 1
)

// DecodeError indicates the raw log does not match the Swap event shape.
// It is non-retryable: the same input will fail the same way, so the caller
// must halt rather than retry.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("swap decode: %s", e.Reason)
}

func decodeErrorf(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// SwapData holds the decoded fields of one Swap event.
type SwapData struct {
	Sender       ethereum.Address
	Recipient    ethereum.Address
	Amount0      *big.Int // signed, may be negative
	Amount1      *big.Int // signed, may be negative
	SqrtPriceX96 *big.Int // unsigned, fits in 160 bits
	Liquidity    *big.Int // unsigned, fits in 128 bits
	Tick         int32    // fits in 24 bits
}

// DecodeSwap decodes a raw log into SwapData.
func DecodeSwap(log ethereum.Log) (*SwapData, error) {
	if len(log.Topics) != 3 {
		return nil, decodeErrorf("expected 3 topics, got %d", len(log.Topics))
	}
	if log.Topics[0] != SwapTopic {
		return nil, decodeErrorf("topic0 %s is not the Swap signature", log.Topics[0].Hex())
	}
	if len(log.Data) != swapDataWords*wordSize {
		return nil, decodeErrorf("expected %d data bytes, got %d", swapDataWords*wordSize, len(log.Data))
	}

	sender, err := topicToAddress(log.Topics[1])
	if err != nil {
		return nil, decodeErrorf("sender topic: %v", err)
	}
	recipient, err := topicToAddress(log.Topics[2])
	if err != nil {
		return nil, decodeErrorf("recipient topic: %v", err)
	}

	amount0 := decodeInt256(word(log.Data, 0))
	amount1 := decodeInt256(word(log.Data, 1))

	sqrtPrice := new(big.Int).SetBytes(word(log.Data, 2))
	if sqrtPrice.Cmp(maxUint160) > 0 {
		return nil, decodeErrorf("sqrtPriceX96 exceeds uint160")
	}

	liquidity := new(big.Int).SetBytes(word(log.Data, 3))
	if liquidity.Cmp(maxUint128) > 0 {
		return nil, decodeErrorf("liquidity exceeds uint128")
	}

	tick, err := decodeInt24(word(log.Data, 4))
	if err != nil {
		return nil, decodeErrorf("tick: %v", err)
	}

	return &SwapData{
		Sender:       sender,
		Recipient:    recipient,
		Amount0:      amount0,
		Amount1:      amount1,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    liquidity,
		Tick:         tick,
	}, nil
}

// EncodeSwap encodes SwapData back into log topics and data.
// Inverse of DecodeSwap; used to build fixtures and verify round-trips.
func EncodeSwap(d *SwapData) (topics []ethereum.Hash, data []byte, err error) {
	if d.Amount0 == nil || d.Amount1 == nil || d.SqrtPriceX96 == nil || d.Liquidity == nil {
		return nil, nil, fmt.Errorf("encode swap: nil field")
	}
	if d.Amount0.Cmp(minInt256) < 0 || d.Amount0.Cmp(maxInt256) > 0 {
		return nil, nil, fmt.Errorf("encode swap: amount0 out of int256 range")
	}
	if d.Amount1.Cmp(minInt256) < 0 || d.Amount1.Cmp(maxInt256) > 0 {
		return nil, nil, fmt.Errorf("encode swap: amount1 out of int256 range")
	}
	if d.SqrtPriceX96.Sign() < 0 || d.SqrtPriceX96.Cmp(maxUint160) > 0 {
		return nil, nil, fmt.Errorf("encode swap: sqrtPriceX96 out of uint160 range")
	}
	if d.Liquidity.Sign() < 0 || d.Liquidity.Cmp(maxUint128) > 0 {
		return nil, nil, fmt.Errorf("encode swap: liquidity out of uint128 range")
	}
	if d.Tick < minTick || d.Tick > maxTick {
		return nil, nil, fmt.Errorf("encode swap: tick out of int24 range")
	}

	topics = []ethereum.Hash{
		SwapTopic,
		addressToTopic(d.Sender),
		addressToTopic(d.Recipient),
	}

	data = make([]byte, swapDataWords*wordSize)
	encodeInt256(data[0*wordSize:1*wordSize], d.Amount0)
	encodeInt256(data[1*wordSize:2*wordSize], d.Amount1)
	d.SqrtPriceX96.FillBytes(data[2*wordSize : 3*wordSize])
	d.Liquidity.FillBytes(data[3*wordSize : 4*wordSize])
	encodeInt256(data[4*wordSize:5*wordSize], big.NewInt(int64(d.Tick)))

	return topics, data, nil
}

// word returns the i-th 32-byte word of data.
func word(data []byte, i int) []byte {
	return data[i*wordSize : (i+1)*wordSize]
}

// topicToAddress extracts an address from an indexed-address topic,
// verifying the 12 leading pad bytes are zero.
func topicToAddress(t ethereum.Hash) (ethereum.Address, error) {
	var a ethereum.Address
	for _, b := range t[:12] {
		if b != 0 {
			return a, fmt.Errorf("non-zero address padding")
		}
	}
	copy(a[:], t[12:])
	return a, nil
}

// addressToTopic left-pads an address into a 32-byte topic word.
func addressToTopic(a ethereum.Address) ethereum.Hash {
	var h ethereum.Hash
	copy(h[12:], a[:])
	return h
}

// decodeInt256 interprets a 32-byte word as a two's-complement signed integer.
func decodeInt256(w []byte) *big.Int {
	v := new(big.Int).SetBytes(w)
	if w[0]&0x80 != 0 {
		v.Sub(v, twoPow256)
	}
	return v
}

// encodeInt256 writes v into a 32-byte word as two's complement.
func encodeInt256(dst []byte, v *big.Int) {
	u := v
	if v.Sign() < 0 {
		u = new(big.Int).Add(twoPow256, v)
	}
	u.FillBytes(dst)
}

// decodeInt24 interprets a 32-byte word as a sign-extended int24.
// The upper 29 bytes must be a valid sign extension of bit 23.
func decodeInt24(w []byte) (int32, error) {
	v := decodeInt256(w)
	if !v.IsInt64() {
		return 0, fmt.Errorf("not a sign-extended int24")
	}
	i := v.Int64()
	if i < minTick || i > maxTick {
		return 0, fmt.Errorf("value %d out of int24 range", i)
	}
	return int32(i), nil
}

func mustHash(s string) ethereum.Hash {
	h, err := ethereum.ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}
