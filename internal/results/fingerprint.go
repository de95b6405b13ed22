package results

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Params identifies one analysis query: the repository set, the date
// range and the team filter. Every field that changes the computed
// output must live here, because the fingerprint is derived from it.
type Params struct {
	Repositories []string `json:"repositories"`
	Since        string   `json:"since,omitempty"`
	Until        string   `json:"until,omitempty"`
	Team         []string `json:"team,omitempty"`
}

// canonical returns the params with set-valued fields sorted, so two
// queries differing only in element order share a fingerprint.
func (p Params) canonical() Params {
	out := Params{Since: p.Since, Until: p.Until}
	out.Repositories = append([]string(nil), p.Repositories...)
	sort.Strings(out.Repositories)
	if len(p.Team) > 0 {
		out.Team = append([]string(nil), p.Team...)
		sort.Strings(out.Team)
	}
	return out
}

// encode returns the canonical JSON encoding of the params. Encoding a
// fixed-shape struct is deterministic, which makes the fingerprint
// deterministic too.
func (p Params) encode() ([]byte, error) {
	return json.Marshal(p.canonical())
}

// Fingerprint returns the deterministic, order-independent cache key
// for the query.
func (p Params) Fingerprint() (string, error) {
	data, err := p.encode()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
