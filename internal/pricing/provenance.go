package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DomainProvenance prefixes provenance hashes. The version suffix allows the
// reference format to change without colliding with old hashes.
const DomainProvenance = "rates/provenance/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data), hex encoded.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Provenance hashes the rule references consulted for one triple. Order
// does not matter and duplicates count once.
func Provenance(refs []string) string {
	uniq := make(map[string]struct{}, len(refs))
	sorted := make([]string, 0, len(refs))
	for _, r := range refs {
		if _, ok := uniq[r]; ok {
			continue
		}
		uniq[r] = struct{}{}
		sorted = append(sorted, r)
	}
	sort.Strings(sorted)
	return hashWithDomain(DomainProvenance, []byte(strings.Join(sorted, "\n")))
}
