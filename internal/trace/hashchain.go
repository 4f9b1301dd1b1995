package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeHash computes the SHA-256 hash for an audit record, chaining to
// the previous hash in that agent's chain.
func ComputeHash(r *Record) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		r.ID,
		r.AgentID,
		r.ActionType,
		string(r.Parameters),
		string(r.Status),
		r.PrevHash,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeAgentSeed computes the initial prev_hash for the first audit
// record in an agent's chain.
func ComputeAgentSeed(agentID string) string {
	hash := sha256.Sum256([]byte(agentID))
	return hex.EncodeToString(hash[:])
}

// VerifyChain walks a list of an agent's audit records in order and
// checks hash integrity. Returns (valid, brokenAtIndex); if valid is
// true, all hashes and chain linkage check out.
func VerifyChain(records []*Record) (bool, int) {
	for i, r := range records {
		expected := ComputeHash(r)
		if r.Hash != expected {
			return false, i
		}
		if i > 0 && r.PrevHash != records[i-1].Hash {
			return false, i
		}
	}
	return true, -1
}
