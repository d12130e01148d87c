package dht

import (
	"math/big"
	"testing"
)

func bigFromInt(v int64) *big.Int { return big.NewInt(v) }

func TestHashIDDeterministic(t *testing.T) {
	a := HashID(32, "node_1")
	b := HashID(32, "node_1")
	if !a.Equal(b) {
		t.Fatalf("HashID not deterministic: %v != %v", a, b)
	}
}

func TestHashIDRespectsWidth(t *testing.T) {
	id := HashID(8, "node_1")
	max := modBase(8)
	if id.Int().Cmp(max) >= 0 {
		t.Fatalf("id %v exceeds 2^8", id)
	}
}

func TestHashIdentityVariesByIndex(t *testing.T) {
	a := HashIdentity(32, "node_1", 0)
	b := HashIdentity(32, "node_1", 1)
	if a.Equal(b) {
		t.Fatalf("identities 0 and 1 collided for same name")
	}
}

func TestChordDistanceWraps(t *testing.T) {
	w := uint(4)
	a := ID{v: bigFromInt(15), w: w}
	b := ID{v: bigFromInt(1), w: w}
	d := ChordDistance(a, b)
	if d.Int64() != 2 {
		t.Fatalf("ChordDistance(15,1) at w=4 = %v, want 2", d)
	}
}

func TestXORDistanceSymmetric(t *testing.T) {
	w := uint(8)
	a := ID{v: bigFromInt(5), w: w}
	b := ID{v: bigFromInt(12), w: w}
	if XORDistance(a, b).Cmp(XORDistance(b, a)) != 0 {
		t.Fatalf("XOR distance not symmetric")
	}
}

func TestBucketIndexZeroDistance(t *testing.T) {
	if BucketIndex(bigFromInt(0)) != 0 {
		t.Fatalf("BucketIndex(0) should be 0")
	}
}

func TestBucketIndexPowersOfTwo(t *testing.T) {
	cases := map[int64]int{1: 0, 2: 1, 3: 1, 4: 2, 255: 7, 256: 8}
	for v, want := range cases {
		if got := BucketIndex(bigFromInt(v)); got != want {
			t.Fatalf("BucketIndex(%d) = %d, want %d", v, got, want)
		}
	}
}

func TestBetweenOnRing(t *testing.T) {
	w := uint(4)
	a := ID{v: bigFromInt(2), w: w}
	b := ID{v: bigFromInt(10), w: w}
	x := ID{v: bigFromInt(5), w: w}
	if !Between(x, a, b) {
		t.Fatalf("expected 5 to be between 2 and 10")
	}
	y := ID{v: bigFromInt(12), w: w}
	if Between(y, a, b) {
		t.Fatalf("expected 12 to NOT be between 2 and 10")
	}
}

func TestAddPow2Wraps(t *testing.T) {
	w := uint(4)
	id := ID{v: bigFromInt(15), w: w}
	got := id.AddPow2(0)
	if got.Int().Int64() != 0 {
		t.Fatalf("15 + 2^0 mod 16 = %v, want 0", got.Int())
	}
}
