package app

import (
	"hash/fnv"

	"study-flow-service/internal/domain"
)

// AssignCondition deterministically maps a participant id to a condition.
// The same id always yields the same condition across restarts: no stored
// counter, no randomness, just a stable hash reduced modulo the condition
// list. Any string, including the empty string, yields a valid condition.
func AssignCondition(userID string) domain.Condition {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return domain.Conditions[h.Sum32()%uint32(len(domain.Conditions))]
}
