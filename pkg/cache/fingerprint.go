package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/sluiceio/sluice/pkg/types"
)

// Fingerprint derives the deterministic cache key for a request: a sha256
// digest over the normalized tuple (query, model, provider, generation
// parameters). The query is lowercased with whitespace collapsed, so two
// requests differing only in whitespace share a key; requests with
// different models never do.
func Fingerprint(req *types.Request) string {
	var b strings.Builder
	b.WriteString(normalizeQuery(req.Query))
	b.WriteByte('|')
	b.WriteString(req.Model)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(req.Provider))

	if len(req.Params) > 0 {
		keys := make([]string, 0, len(req.Params))
		for k := range req.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(req.Params[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
