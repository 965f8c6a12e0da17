package canonical

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
)

// SigLen is the signature width in hex characters. At 8 characters (32
// bits) collisions stay negligible for populations of a few hundred
// thousand experiments; no collision detection is attempted beyond that.
const SigLen = 8

// Sign derives the short stable signature of a canonical form. The form is
// serialized with sorted keys and deterministic number formatting, so the
// signature survives process restarts and machine changes.
func Sign(form Form) string {
	data, err := json.Marshal(form)
	if err != nil {
		// Forms only hold JSON primitives after normalization.
		panic("canonical: unserializable form: " + err.Error())
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])[:SigLen]
}
