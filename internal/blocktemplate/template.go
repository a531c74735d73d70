// Package blocktemplate models the CryptoNote-family block header the
// daemon hands the miner, and the handful of opaque operations (wire
// (de)serialization, merkle-root computation, merge-mining tag injection)
// the rest of the core treats as supplied collaborators.
package blocktemplate

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/acbcminer/acbcminer/chaincfg/chainhash"
)

// mergeMiningMajorVersion is the block major version at which the daemon
// expects a merge-mining tag to be present in the base transaction's extra
// field.
const mergeMiningMajorVersion = 2

// BaseTransaction is the coinbase-equivalent transaction embedded in the
// parent block. Extra carries arbitrary tagged data, including the
// merge-mining commitment the miner injects before searching for a nonce.
type BaseTransaction struct {
	Extra []byte
}

// ParentBlock is the portion of the template that merge-mining tags attach
// to. In a standalone (non-merge-mined) chain this is simply the block
// whose nonce is being searched.
type ParentBlock struct {
	BaseTransaction BaseTransaction
}

// BlockTemplate is an opaque, serializable block header under
// construction. Each worker thread in the search engine owns and mutates
// its own copy; the template is never shared mutably between threads.
type BlockTemplate struct {
	MajorVersion uint8
	Timestamp    uint64
	Nonce        uint32
	ParentBlock  ParentBlock

	// body is the remainder of the header/body bytes this miner does not
	// interpret. It round-trips through Serialize/Deserialize unchanged
	// so fields this core does not model are preserved verbatim.
	body []byte
}

// Clone returns a deep copy suitable for handing to an independent worker.
func (t BlockTemplate) Clone() BlockTemplate {
	clone := t
	clone.ParentBlock.BaseTransaction.Extra = append([]byte(nil), t.ParentBlock.BaseTransaction.Extra...)
	clone.body = append([]byte(nil), t.body...)
	return clone
}

// MiningParameters bundles a template with the difficulty target it must
// satisfy. Produced once by the manager from a daemon response, consumed
// once by a single SearchEngine attempt.
type MiningParameters struct {
	Template   BlockTemplate
	Difficulty uint64
}

// Serialize encodes the template into the wire format the daemon accepts
// back via /block: major version, timestamp, nonce, extra length + bytes,
// then any trailing opaque body bytes.
func Serialize(t BlockTemplate) ([]byte, error) {
	buf := make([]byte, 0, 1+8+4+4+len(t.ParentBlock.BaseTransaction.Extra)+len(t.body))

	buf = append(buf, t.MajorVersion)

	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], t.Timestamp)
	buf = append(buf, tmp[:]...)

	var nonceBuf [4]byte
	binary.LittleEndian.PutUint32(nonceBuf[:], t.Nonce)
	buf = append(buf, nonceBuf[:]...)

	extra := t.ParentBlock.BaseTransaction.Extra
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(extra)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, extra...)

	buf = append(buf, t.body...)

	return buf, nil
}

// Deserialize parses the hex-decoded blob the daemon returns from
// /block/template into a BlockTemplate. It is the inverse of Serialize.
func Deserialize(blob []byte) (BlockTemplate, error) {
	var t BlockTemplate

	if len(blob) < 1+8+4+4 {
		return t, errors.New("blocktemplate: blob too short")
	}

	t.MajorVersion = blob[0]
	offset := 1

	t.Timestamp = binary.LittleEndian.Uint64(blob[offset : offset+8])
	offset += 8

	t.Nonce = binary.LittleEndian.Uint32(blob[offset : offset+4])
	offset += 4

	extraLen := binary.LittleEndian.Uint32(blob[offset : offset+4])
	offset += 4

	if uint32(len(blob)-offset) < extraLen {
		return t, errors.New("blocktemplate: truncated extra field")
	}

	t.ParentBlock.BaseTransaction.Extra = append([]byte(nil), blob[offset:offset+int(extraLen)]...)
	offset += int(extraLen)

	t.body = append([]byte(nil), blob[offset:]...)

	return t, nil
}

// DeserializeHex decodes a hex string and deserializes it, the shape the
// daemon's "blob" JSON field arrives in.
func DeserializeHex(blobHex string) (BlockTemplate, error) {
	raw, err := hex.DecodeString(blobHex)
	if err != nil {
		return BlockTemplate{}, fmt.Errorf("blocktemplate: invalid hex blob: %w", err)
	}
	return Deserialize(raw)
}

// SerializeHex is the hex-encoding counterpart of Serialize, the shape
// submit_block expects.
func SerializeHex(t BlockTemplate) (string, error) {
	raw, err := Serialize(t)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// MergeMiningTag is the metadata committing a merge-mined child block's
// merkle root into the parent's base transaction extra field.
type MergeMiningTag struct {
	Depth      uint64
	MerkleRoot chainhash.Hash
}

// mergeMiningTagID is an arbitrary tag identifier distinguishing a
// merge-mining commitment from other extra-field entries.
const mergeMiningTagID = 0x03

// AppendMergeMiningTag serializes tag and appends it to extra, returning
// the updated slice. It reports false if the tag could not be encoded,
// mirroring the boolean-returning external collaborator in the original
// design.
func AppendMergeMiningTag(extra []byte, tag MergeMiningTag) ([]byte, bool) {
	encoded := make([]byte, 0, 1+8+len(tag.MerkleRoot))
	encoded = append(encoded, mergeMiningTagID)

	var depthBuf [8]byte
	binary.LittleEndian.PutUint64(depthBuf[:], tag.Depth)
	encoded = append(encoded, depthBuf[:]...)
	encoded = append(encoded, tag.MerkleRoot[:]...)

	return append(extra, encoded...), true
}

// MerkleRootOf computes the merkle root a merge-mining tag should commit
// to for this template. With no transaction set to hash over beyond the
// base transaction, the root collapses to the hash of the major version
// and the base transaction's extra field, which is sufficient to make the tag
// deterministic and distinct per template.
func MerkleRootOf(t BlockTemplate) chainhash.Hash {
	return chainhash.Hash(longHashBytes(append(
		[]byte{t.MajorVersion},
		t.ParentBlock.BaseTransaction.Extra...,
	)))
}

// longHashBytes is a lightweight, non-cryptographic-strength mixing
// function used only to derive a deterministic merkle placeholder; it has
// no bearing on the proof-of-work hash itself, which lives in the hashing
// package as an explicit external collaborator.
func longHashBytes(data []byte) [32]byte {
	var h [32]byte
	var acc uint32 = 2166136261
	for i, b := range data {
		acc = (acc ^ uint32(b)) * 16777619
		h[i%32] ^= byte(acc)
	}
	return h
}

// AdjustForMining applies the merge-mining tag transformation: for
// major_version >= 2, the base transaction's extra field is cleared and
// replaced with a freshly computed merge-mining tag.
// It is idempotent: invoking it twice on the same starting template yields
// byte-for-byte identical results, since MerkleRootOf depends only on the
// major version and the (cleared, then recomputed) extra field.
func AdjustForMining(t *BlockTemplate) error {
	if t.MajorVersion < mergeMiningMajorVersion {
		return nil
	}

	t.ParentBlock.BaseTransaction.Extra = nil

	tag := MergeMiningTag{
		Depth:      0,
		MerkleRoot: MerkleRootOf(*t),
	}

	extra, ok := AppendMergeMiningTag(t.ParentBlock.BaseTransaction.Extra, tag)
	if !ok {
		return errors.New("blocktemplate: couldn't append merge mining tag")
	}

	t.ParentBlock.BaseTransaction.Extra = extra
	return nil
}

// ParentIdentifier returns the value TipMonitor compares across polls to
// detect a chain-tip change. It hashes the template's opaque trailing
// body bytes, which is where a real daemon's previous-block-hash field
// would live; those bytes are untouched by the miner's template
// adjustments (AdjustForMining rewrites only the extra field, and the
// manager optionally rewrites the timestamp), so two
// templates requested at the same chain tip hash identically while a
// freshly mined tip changes them.
func ParentIdentifier(t BlockTemplate) chainhash.Hash {
	return chainhash.Hash(longHashBytes(t.body))
}
