// Package dht holds the parts shared by both overlays: identifiers,
// messages, packets, and the node runtime (receive queue, request/reply
// correlation, the DHT-level store/find orchestration). Chord and Kademlia
// each build their routing table on top of this package.
package dht

import (
	"crypto/sha256"
	"math/big"
)

// ID is a W-bit unsigned identifier, used for both node identities and key
// identities. W is carried alongside the value (rather than fixed at
// compile time) because the spec treats the logical world size as a
// configuration parameter.
type ID struct {
	v *big.Int
	w uint
}

// Width returns the bit width this identifier was computed at.
func (id ID) Width() uint { return id.w }

// Int returns the identifier's value as a big.Int. The returned pointer
// must not be mutated by callers.
func (id ID) Int() *big.Int { return id.v }

// Cmp compares two identifiers of the same width.
func (id ID) Cmp(other ID) int { return id.v.Cmp(other.v) }

// Equal reports whether two identifiers have the same value.
func (id ID) Equal(other ID) bool { return id.v.Cmp(other.v) == 0 }

// String renders the identifier in hex, matching how Chord/Kademlia
// implementations in the example pack log node ids.
func (id ID) String() string { return id.v.Text(16) }

// HashID derives a W-bit identifier from name by taking the first W bits
// of SHA-256(name), matching §3's identifier derivation rule.
func HashID(w uint, name string) ID {
	sum := sha256.Sum256([]byte(name))
	return idFromBits(w, sum[:])
}

// HashIdentity derives the index-th of a node's k identities by hashing
// "name‖index", per §3's multi-identity rule for Chord.
func HashIdentity(w uint, name string, index int) ID {
	return HashID(w, identityKeyString(name, index))
}

func identityKeyString(name string, index int) string {
	buf := make([]byte, 0, len(name)+12)
	buf = append(buf, name...)
	buf = append(buf, '\x00')
	buf = append(buf, itoa(index)...)
	return string(buf)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}

func idFromBits(w uint, data []byte) ID {
	nBytes := (w + 7) / 8
	if nBytes == 0 {
		return ID{v: big.NewInt(0), w: w}
	}
	buf := make([]byte, nBytes)
	copy(buf, data[:min(int(nBytes), len(data))])
	v := new(big.Int).SetBytes(buf)
	v.Rsh(v, nBytes*8-w)
	return ID{v: v, w: w}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// modBase returns 2^w as a big.Int.
func modBase(w uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), w)
}

// AddPow2 returns (id + 2^x) mod 2^W, used to compute a Chord finger
// table's target identifiers.
func (id ID) AddPow2(x uint) ID {
	offset := new(big.Int).Lsh(big.NewInt(1), x)
	sum := new(big.Int).Add(id.v, offset)
	sum.Mod(sum, modBase(id.w))
	return ID{v: sum, w: id.w}
}

// ChordDistance returns the forward ring distance (b-a) mod 2^W from a to
// b.
func ChordDistance(a, b ID) *big.Int {
	d := new(big.Int).Sub(b.v, a.v)
	d.Mod(d, modBase(a.w))
	return d
}

// XORDistance returns the symmetric Kademlia distance a XOR b.
func XORDistance(a, b ID) *big.Int {
	return new(big.Int).Xor(a.v, b.v)
}

// BucketIndex returns floor(log2(d)) for d>0, and 0 for d==0, matching the
// Kademlia bucket-assignment rule in §3/§4.6.
func BucketIndex(d *big.Int) int {
	if d.Sign() == 0 {
		return 0
	}
	return d.BitLen() - 1
}

// Between reports whether x lies strictly clockwise-between a and b on the
// W-bit ring (a < x < b in ring order, wrapping around 2^W). This is the
// primitive Chord's stabilize/notify logic is built on.
func Between(x, a, b ID) bool {
	if a.Equal(b) {
		// Degenerate ring of one identity: nothing is strictly between.
		return false
	}
	da := ChordDistance(a, x)
	db := ChordDistance(a, b)
	return da.Sign() > 0 && da.Cmp(db) < 0
}
