package task

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SuffixGenerator produces the random part of a revision string.
type SuffixGenerator func() string

// RandomSuffix returns 32 lowercase hex characters.
func RandomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewID returns a time-sortable UUIDv7 string.
//
// Panics if UUID generation fails (should never happen in practice).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RevisionCounter returns the numeric prefix of rev, or 0 when rev is empty or
// has no parseable prefix.
func RevisionCounter(rev string) int {
	prefix, _, _ := strings.Cut(rev, "-")
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatRevision joins a counter and suffix.
func FormatRevision(counter int, suffix string) string {
	return strconv.Itoa(counter) + "-" + suffix
}

// NextRevision returns the revision following prev with a fresh suffix.
func NextRevision(prev string, gen SuffixGenerator) string {
	if gen == nil {
		gen = RandomSuffix
	}
	return FormatRevision(RevisionCounter(prev)+1, gen())
}
