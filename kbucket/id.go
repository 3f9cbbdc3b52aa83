// Package kbucket implements the 160-bit identifier space, the XOR
// distance metric, and the k-bucket routing table of the DHT.
package kbucket

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math/bits"

	ipfsutil "github.com/ipfs/go-ipfs-util"
	sha256 "github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
)

// IDBytes is the width of the identifier space: 160 bits.
const (
	IDBytes = 20
	IDBits  = IDBytes * 8
)

// ID is a 160-bit opaque identifier: a NodeId, a Key, or a Cookie. Bytes
// only, compared bitwise — implementations must never attribute semantic
// structure to the bits beyond the XOR metric.
type ID [IDBytes]byte

// Bytes returns the raw digest.
func (id ID) Bytes() []byte { return id[:] }

// Less gives a total, deterministic ordering over IDs, used to break
// distance ties in a fixed, reproducible way.
func (id ID) Less(other ID) bool { return bytes.Compare(id[:], other[:]) < 0 }

// Multihash wraps id in a self-describing multihash envelope (sha1-coded,
// since 160 bits is exactly a sha1 digest's width) so identifiers can be
// printed and parsed the way libp2p peer IDs are. The bytes are not
// actually a sha1 digest of anything — id is opaque — but the multihash
// code is still a faithful width tag for external representation.
func (id ID) Multihash() (multihash.Multihash, error) {
	return multihash.Encode(id[:], multihash.SHA1)
}

// String renders id as a base58 multihash, falling back to hex if, for
// whatever reason, it cannot be wrapped.
func (id ID) String() string {
	mh, err := id.Multihash()
	if err != nil {
		return hex.EncodeToString(id[:])
	}
	return mh.B58String()
}

// IDFromMultihash unwraps a multihash produced by ID.Multihash back into
// an ID, failing if its digest isn't IDBytes wide.
func IDFromMultihash(mh multihash.Multihash) (ID, error) {
	dec, err := multihash.Decode(mh)
	if err != nil {
		return ID{}, fmt.Errorf("kbucket: decode multihash: %w", err)
	}
	if len(dec.Digest) != IDBytes {
		return ID{}, fmt.Errorf("kbucket: multihash digest is %d bytes, want %d", len(dec.Digest), IDBytes)
	}
	var id ID
	copy(id[:], dec.Digest)
	return id, nil
}

// RandomID returns a uniformly random identifier, suitable for a new
// node's own ID, a lookup's random-refresh target, or an RPC cookie.
func RandomID() ID {
	var id ID
	if _, err := io.ReadFull(ipfsutil.NewTimeSeededRand(), id[:]); err != nil {
		panic("kbucket: failed to read random bytes: " + err.Error())
	}
	return id
}

// DeriveKey hashes arbitrary content into the key space, for callers that
// want to `put` a blob under a content-derived key rather than a hand-picked
// one. Not part of the narrow spec API, but the natural companion to it.
func DeriveKey(data []byte) ID {
	sum := sha256.Sum256(data)
	var id ID
	copy(id[:], sum[:IDBytes])
	return id
}

// Distance is the XOR metric, interpreted as an unsigned IDBits-bit integer;
// only its ordering matters.
type Distance [IDBytes]byte

// XorDistance computes d(a,b) = a XOR b.
func XorDistance(a, b ID) Distance {
	var d Distance
	for i := 0; i < IDBytes; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less orders distances as unsigned big-endian integers.
func (d Distance) Less(o Distance) bool { return bytes.Compare(d[:], o[:]) < 0 }

func leadingZeroBits(d Distance) int {
	for i, b := range d {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return IDBits
}

// BucketIndex returns the k-bucket index (0..IDBits-1) that peer id
// occupies from local's viewpoint: 160 − 1 − leading_zero_bits(d(local,id)).
// It returns -1 when id == local, since the local ID has no bucket.
func BucketIndex(local, id ID) int {
	d := XorDistance(local, id)
	lz := leadingZeroBits(d)
	return IDBits - 1 - lz
}
