package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// GraphQLKey composes the read-through cache key for one GraphQL call:
// "graphql:" + sha256(query) + ":" + JSON(variables), per spec.md §4.B.
func GraphQLKey(query string, variables any) (string, error) {
	sum := sha256.Sum256([]byte(query))
	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return "", err
	}
	return "graphql:" + hex.EncodeToString(sum[:]) + ":" + string(varsJSON), nil
}
