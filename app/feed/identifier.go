package feed

import (
	"cmp"
	"crypto/sha1"
	"encoding/hex"
	"errors"
)

var ErrUnidentifiable = errors.New("entry has no id, link or title")

// ExternalID picks the feed-native id, else the link, else the title.
func ExternalID(entry Entry) string {
	return cmp.Or(entry.ID, entry.Link, entry.Title)
}

// Identify derives the storage key of an entry within a stream. The key is stable
// across re-polls and push re-deliveries of the same entry.
func Identify(entry Entry, streamID string) (externalID, key string, err error) {
	externalID = ExternalID(entry)
	if externalID == "" {
		return "", "", ErrUnidentifiable
	}

	sum := sha1.Sum([]byte(entry.Link + "\n" + externalID + "\n" + streamID))
	return externalID, "z" + hex.EncodeToString(sum[:]), nil
}

// Summary returns the entry description, falling back to its title.
func Summary(entry Entry) string {
	return cmp.Or(entry.Description, entry.Title)
}
