package hashlock

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrZeroHash is returned when a verifier is constructed from an
	// all-zero hash, which can't be the digest of a generated preimage.
	ErrZeroHash = errors.New("hash lock hash is zero")
)

// Verifier is the hash-only side of a hash lock. It can check a candidate
// preimage against the committed hash but can never produce one, which makes
// it the capability handed to the counterparty of a swap.
type Verifier struct {
	hash lntypes.Hash
}

// FromHash constructs a verify-only hash lock.
func FromHash(hash lntypes.Hash) (Verifier, error) {
	if hash == lntypes.ZeroHash {
		return Verifier{}, ErrZeroHash
	}

	return Verifier{hash: hash}, nil
}

// ParseHash constructs a verify-only hash lock from a hex encoded digest.
func ParseHash(hexHash string) (Verifier, error) {
	hash, err := lntypes.MakeHashFromStr(hexHash)
	if err != nil {
		return Verifier{}, fmt.Errorf("invalid hash lock: %w", err)
	}

	return FromHash(hash)
}

// Hash returns the committed digest.
func (v Verifier) Hash() lntypes.Hash {
	return v.hash
}

// Verify returns true iff sha256(candidate) equals the committed hash. The
// digest comparison runs in constant time. Candidates of the wrong length are
// hashed anyway so that rejecting them takes the same time as any other
// mismatch.
func (v Verifier) Verify(candidate []byte) bool {
	digest := sha256.Sum256(candidate)
	match := subtle.ConstantTimeCompare(digest[:], v.hash[:]) == 1

	return match && len(candidate) == lntypes.PreimageSize
}

// VerifyPreimage is the typed form of Verify.
func (v Verifier) VerifyPreimage(preimage lntypes.Preimage) bool {
	return v.Verify(preimage[:])
}

// String returns the hex encoded hash.
func (v Verifier) String() string {
	return v.hash.String()
}

// Committer is the secret holding side of a hash lock. Only the party that
// initiates a swap ever holds one.
type Committer struct {
	preimage lntypes.Preimage
	verifier Verifier
}

// Generate creates a committer backed by a fresh random 32 byte preimage.
func Generate() (*Committer, error) {
	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, fmt.Errorf("unable to generate preimage: %w", err)
	}

	return FromPreimage(preimage), nil
}

// FromPreimage wraps an existing preimage, e.g. one restored from disk.
func FromPreimage(preimage lntypes.Preimage) *Committer {
	return &Committer{
		preimage: preimage,
		verifier: Verifier{hash: preimage.Hash()},
	}
}

// Preimage returns the secret. Callers must only hand it to a chain adapter
// when claiming.
func (c *Committer) Preimage() lntypes.Preimage {
	return c.preimage
}

// Hash returns the digest of the preimage.
func (c *Committer) Hash() lntypes.Hash {
	return c.verifier.hash
}

// Verifier returns the hash-only capability for this committer, suitable for
// sharing with the counterparty.
func (c *Committer) Verifier() Verifier {
	return c.verifier
}

// Verify checks a candidate preimage against this committer's hash.
func (c *Committer) Verify(candidate []byte) bool {
	return c.verifier.Verify(candidate)
}
