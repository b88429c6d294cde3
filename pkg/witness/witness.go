// Package witness persists a gate invocation's output as a JSON witness
// file plus an append-only SHA-256 hash chain, and rotates old witness
// files by count and total byte budget. Grounded directly on the
// original engine's witness.rs: the chain is deliberately linear, never a
// merkle tree (spec §9), and rotation never removes the file just
// written even if it is the oldest by modification time.
package witness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/ids"
)

// SigningKeyEnvVar is the environment variable holding the passphrase
// used to sign witness chain entries. Unset means signing is disabled —
// every entry's Signature field stays nil, and VerifyChainIntegrity never
// checks a signature it wasn't given a key to check.
const SigningKeyEnvVar = "AI_DX_WITNESS_SIGNING_KEY"

// signingSalt and signingIterations fix the PBKDF2 parameters for
// deriving an HMAC key from the operator-supplied passphrase. The salt is
// a constant rather than a per-chain random value: the threat model is an
// operator who wants tamper-evidence on their own chain file, not
// cross-chain password cracking resistance, so a fixed, well-known salt
// keeps verification reproducible from the passphrase alone.
const (
	signingSalt       = "compas-witness-chain-v1"
	signingIterations = 100_000
	signingKeyLen     = 32
)

func deriveSigningKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(signingSalt), signingIterations, signingKeyLen, sha256.New)
}

// signEntryHash computes an HMAC-SHA256 over entryHash using a PBKDF2-derived
// key, hex-encoded. entryHash already commits to every other field of the
// entry, so signing it transitively covers the whole entry.
func signEntryHash(key []byte, entryHash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(entryHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyEntrySignature reports whether entry.Signature is the correct
// PBKDF2/HMAC-SHA256 signature of entry.EntryHash under passphrase. A nil
// Signature is never considered verified — callers that require signing
// should reject unsigned entries explicitly rather than treat this as
// true.
func VerifyEntrySignature(passphrase string, entry gatetypes.WitnessChainEntry) bool {
	if entry.Signature == nil {
		return false
	}
	key := deriveSigningKey(passphrase)
	return hmac.Equal([]byte(*entry.Signature), []byte(signEntryHash(key, entry.EntryHash)))
}

const (
	MaxFiles      = 20
	MaxTotalBytes = 2 * 1024 * 1024
)

// Meta is the summary of a witness write surfaced in a gate response.
type Meta struct {
	Path         string `json:"path"`
	SizeBytes    int    `json:"size_bytes"`
	Sha256       string `json:"sha256"`
	RotatedFiles int    `json:"rotated_files"`
}

// Chain is the on-disk append-only hash chain.
type Chain struct {
	Entries []gatetypes.WitnessChainEntry `json:"entries"`
}

// ComputeEntryHash reproduces the exact hash formula required by the
// spec: sha256("<prev>:<witness_sha>:<ts>:<kind>").
func ComputeEntryHash(prevHash, witnessSha256, timestamp, gateKind string) string {
	input := fmt.Sprintf("%s:%s:%s:%s", prevHash, witnessSha256, timestamp, gateKind)
	return ids.Sha256HexString(input)
}

// LoadChain reads the chain file, returning an empty chain if it does
// not exist.
func LoadChain(path string) (Chain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Chain{}, nil
		}
		return Chain{}, err
	}
	var c Chain
	if err := json.Unmarshal(raw, &c); err != nil {
		return Chain{}, fmt.Errorf("witness: invalid chain json: %w", err)
	}
	return c, nil
}

// VerifyChainIntegrity walks the chain from genesis, checking that each
// entry's prev_hash links correctly and its entry_hash is the correct
// recomputation. Any mismatch — including deliberate tampering with a
// stored entry_hash — makes this return false.
func VerifyChainIntegrity(c Chain) bool {
	expectedPrev := gatetypes.GenesisHash
	for _, e := range c.Entries {
		if e.PrevHash != expectedPrev {
			return false
		}
		computed := ComputeEntryHash(e.PrevHash, e.WitnessSha256, e.Timestamp, e.GateKind)
		if e.EntryHash != computed {
			return false
		}
		expectedPrev = e.EntryHash
	}
	return true
}

// writeAtomic writes data to path via a temp-file-then-rename, so no
// reader ever observes a partially-written chain or witness file.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AppendChainEntry appends a new entry to the chain at chainPath,
// first verifying the existing chain's integrity (a tampered chain
// refuses further appends — the gate fails closed).
func AppendChainEntry(chainPath, gateKind, witnessSha256 string, ok bool) (gatetypes.WitnessChainEntry, error) {
	chain, err := LoadChain(chainPath)
	if err != nil {
		return gatetypes.WitnessChainEntry{}, err
	}
	if !VerifyChainIntegrity(chain) {
		return gatetypes.WitnessChainEntry{}, fmt.Errorf("witness: chain integrity check failed")
	}

	prevHash := gatetypes.GenesisHash
	if n := len(chain.Entries); n > 0 {
		prevHash = chain.Entries[n-1].EntryHash
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entryHash := ComputeEntryHash(prevHash, witnessSha256, timestamp, gateKind)
	entry := gatetypes.WitnessChainEntry{
		GateKind:      gateKind,
		Timestamp:     timestamp,
		WitnessSha256: witnessSha256,
		PrevHash:      prevHash,
		EntryHash:     entryHash,
		OK:            ok,
	}
	if passphrase := os.Getenv(SigningKeyEnvVar); passphrase != "" {
		key := deriveSigningKey(passphrase)
		sig := signEntryHash(key, entryHash)
		entry.Signature = &sig
	}

	chain.Entries = append(chain.Entries, entry)
	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return gatetypes.WitnessChainEntry{}, err
	}
	if err := writeAtomic(chainPath, data); err != nil {
		return gatetypes.WitnessChainEntry{}, err
	}
	return entry, nil
}

type fileMeta struct {
	path     string
	modified time.Time
	size     int64
}

// RotateDir enforces MaxFiles/MaxTotalBytes over gate_*.json files in
// dir, deleting oldest-first by modification time but never deleting
// keepPath, and returns the number of files removed.
func RotateDir(dir, keepPath string) (int, error) {
	return rotateDirWithLimits(dir, keepPath, MaxFiles, MaxTotalBytes)
}

func rotateDirWithLimits(dir, keepPath string, maxFiles int, maxTotalBytes int64) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var files []fileMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < len("gate_.json") || name[:5] != "gate_" || name[len(name)-5:] != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		files = append(files, fileMeta{
			path:     filepath.Join(dir, name),
			modified: info.ModTime(),
			size:     info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modified.Before(files[j].modified) })

	count := len(files)
	var total int64
	for _, f := range files {
		total += f.size
	}

	removed := 0
	for _, f := range files {
		if count <= maxFiles && total <= maxTotalBytes {
			break
		}
		if f.path == keepPath {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			return removed, err
		}
		count--
		total -= f.size
		removed++
	}
	return removed, nil
}

// Write serializes payload as the witness JSON for gateKind, appends a
// chain entry, rotates the witness directory, and returns the resulting
// Meta. repoRoot is the repository root; gateKind is the slug used in
// the file name (e.g. "ci-fast").
func Write(repoRoot, gateKind string, payload interface{}, ok bool) (Meta, error) {
	witnessRel := filepath.ToSlash(filepath.Join(".agents/mcp/compas/witness", "gate_"+gateKind+".json"))
	witnessPath := filepath.Join(repoRoot, filepath.FromSlash(witnessRel))

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("witness: serialize: %w", err)
	}
	if err := writeAtomic(witnessPath, data); err != nil {
		return Meta{}, fmt.Errorf("witness: write: %w", err)
	}

	sha := ids.Sha256Hex(data)
	chainPath := filepath.Join(repoRoot, ".agents/mcp/compas/witness/chain.json")
	if _, err := AppendChainEntry(chainPath, gateKind, sha, ok); err != nil {
		return Meta{}, fmt.Errorf("witness: chain append: %w", err)
	}

	rotated, err := RotateDir(filepath.Dir(witnessPath), witnessPath)
	if err != nil {
		return Meta{}, fmt.Errorf("witness: rotation: %w", err)
	}

	return Meta{
		Path:         witnessRel,
		SizeBytes:    len(data),
		Sha256:       sha,
		RotatedFiles: rotated,
	}, nil
}
