package session

import "strings"

// Utterance accumulates assistant text fragments until the turn completes.
// It is owned by the upstream loop and is not safe for concurrent use.
type Utterance struct {
	responseID string
	fragments  []string
	size       int
}

// Append adds a fragment. The first non-empty response id sticks until Flush.
func (u *Utterance) Append(responseID, fragment string) {
	if u.responseID == "" {
		u.responseID = responseID
	}
	u.fragments = append(u.fragments, fragment)
	u.size += len(fragment)
}

// ResponseID returns the upstream response the pending fragments belong to
func (u *Utterance) ResponseID() string {
	return u.responseID
}

// Pending reports whether any fragment has been appended since the last Flush
func (u *Utterance) Pending() bool {
	return len(u.fragments) > 0
}

// Size returns the current total buffered bytes
func (u *Utterance) Size() int {
	return u.size
}

// ChunkCount returns the number of fragments in the buffer
func (u *Utterance) ChunkCount() int {
	return len(u.fragments)
}

// Flush concatenates all fragments in order and clears the buffer
func (u *Utterance) Flush() (responseID, text string) {
	var b strings.Builder
	b.Grow(u.size)
	for _, fragment := range u.fragments {
		b.WriteString(fragment)
	}
	responseID = u.responseID

	u.responseID = ""
	u.fragments = u.fragments[:0]
	u.size = 0

	return responseID, b.String()
}
