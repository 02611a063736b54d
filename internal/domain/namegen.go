package domain

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var adjectives = []string{
	"amber", "brisk", "cobalt", "dusty", "ember",
	"frosty", "gilded", "hollow", "ivory", "jagged",
	"lunar", "mellow", "nimble", "opal", "polished",
	"rusty", "silent", "tidal", "umber", "velvet",
	"woven", "zesty", "molten", "sober", "stoic",
	"plucky", "rapid", "serene", "tawny", "vernal",
}

var nouns = []string{
	"anvil", "forge", "ledger", "block", "vault",
	"miner", "oracle", "relay", "shard", "token",
	"bridge", "chain", "epoch", "gas", "hash",
	"node", "nonce", "proof", "root", "slot",
	"peer", "stake", "trie", "mempool", "signer",
	"fork", "beacon", "keeper", "router", "pool",
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// ContainerName returns a readable, unique name that docker accepts:
// <prefix>-<adjective>-<noun>-<8 hex chars>. The prefix is lowercased and
// stripped of characters docker rejects; an empty result becomes "yudai".
func ContainerName(prefix string) string {
	prefix = invalidNameChars.ReplaceAllString(strings.ToLower(prefix), "-")
	prefix = strings.Trim(prefix, "-_.")
	if prefix == "" {
		prefix = "yudai"
	}
	adj := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	return prefix + "-" + adj + "-" + noun + "-" + uuid.NewString()[:8]
}
