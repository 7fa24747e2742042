package txtracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// writeFile serializes txs (Nonce->TxHash) to path as JSON, matching spec
// §6's disk format: a JSON object whose keys are decimal nonces and whose
// values are 0x-prefixed hex tx hashes.
//
// The reference Python implementation rewrites a single open file handle
// in place (seek-0, truncate, write, flush). Spec §9's design notes
// tolerate the more robust write-temp-then-rename strategy "so long as a
// partial write cannot corrupt a subsequent read" — this is the open
// question resolved in favor of write-temp+rename (see DESIGN.md).
func writeFile(path string, txs map[uint64]common.Hash) error {
	encoded := make(map[string]string, len(txs))
	for nonce, hash := range txs {
		encoded[strconv.FormatUint(nonce, 10)] = hash.Hex()
	}

	data, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("txtracker: marshal persisted state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".txs-cache-*.json")
	if err != nil {
		return fmt.Errorf("txtracker: create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("txtracker: write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("txtracker: sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("txtracker: close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("txtracker: rename temp state file into place: %w", err)
	}
	return nil
}

// readFile parses path as the Nonce->TxHash JSON object. A missing file or
// a parse error yields an empty map, non-fatally, per spec §6.
func readFile(path string) map[uint64]common.Hash {
	out := make(map[uint64]common.Hash)

	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		return out
	}

	for nonceStr, hashStr := range decoded {
		nonce, err := strconv.ParseUint(nonceStr, 10, 64)
		if err != nil {
			continue
		}
		out[nonce] = common.HexToHash(hashStr)
	}
	return out
}
