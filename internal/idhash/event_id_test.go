package idhash

import (
	"testing"

	"evm-swap-indexer/internal/ethereum"
)

func TestComputeEventID(t *testing.T) {
	blockHash, err := ethereum.ParseHash("0x5b4e3c1a9f2d8e7b6a5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a")
	if err != nil {
		t.Fatalf("parse hash: %v", err)
	}

	got := ComputeEventID(blockHash, 12, 3)

	if len(got) != 64 {
		t.Errorf("ComputeEventID() length = %d, want 64", len(got))
	}

	// Same inputs must produce the same id
	got2 := ComputeEventID(blockHash, 12, 3)
	if got != got2 {
		t.Errorf("ComputeEventID() not deterministic: %s != %s", got, got2)
	}
}

func TestComputeEventID_Uniqueness(t *testing.T) {
	blockHash, _ := ethereum.ParseHash("0x5b4e3c1a9f2d8e7b6a5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a")
	otherHash, _ := ethereum.ParseHash("0x0000000000000000000000000000000000000000000000000000000000000001")

	base := ComputeEventID(blockHash, 12, 3)

	variants := []string{
		ComputeEventID(blockHash, 12, 4), // different log index
		ComputeEventID(blockHash, 13, 3), // different tx index
		ComputeEventID(otherHash, 12, 3), // different block hash
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collides with base id %s", i, base)
		}
	}
}
