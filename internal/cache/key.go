package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key hashes the canonical JSON form of v under namespace. Callers pass a
// struct holding only the fields that decide the output, already
// normalized; struct field order and sorted map keys make the encoding
// deterministic.
func Key(namespace string, v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", v))
	}
	hash := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(hash[:])
}
