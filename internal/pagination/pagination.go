// Package pagination implements opaque keyset page tokens over (timestamp, id) ordered sets.
package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a page token cannot be decoded or resolved.
	ErrInvalidToken = errors.New("invalid page token")
	// ErrInvalidPageSize is returned for non-positive page sizes.
	ErrInvalidPageSize = errors.New("page size must be positive")
)

// Key is the position of an item in a (timestamp, id) ordering.
type Key struct {
	At time.Time
	ID uuid.UUID
}

// Less reports whether k sorts before o in ascending order.
func (k Key) Less(o Key) bool {
	if !k.At.Equal(o.At) {
		return k.At.Before(o.At)
	}
	return bytes.Compare(k.ID[:], o.ID[:]) < 0
}

// Equal reports whether k and o identify the same position.
func (k Key) Equal(o Key) bool {
	return k.At.Equal(o.At) && k.ID == o.ID
}

// Token is a decoded page token.
type Token struct {
	Key
	Descending bool
}

type wireToken struct {
	At   string    `json:"t"`
	ID   uuid.UUID `json:"i"`
	Desc bool      `json:"d,omitempty"`
}

// Encode returns the opaque token for resuming after k.
func Encode(k Key, descending bool) string {
	data, _ := json.Marshal(wireToken{
		At:   k.At.UTC().Format(time.RFC3339Nano),
		ID:   k.ID,
		Desc: descending,
	})
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses a token produced by Encode.
func Decode(token string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Token{}, ErrInvalidToken
	}
	var w wireToken
	if err := json.Unmarshal(raw, &w); err != nil {
		return Token{}, ErrInvalidToken
	}
	at, err := time.Parse(time.RFC3339Nano, w.At)
	if err != nil || w.ID == uuid.Nil {
		return Token{}, ErrInvalidToken
	}
	return Token{Key: Key{At: at, ID: w.ID}, Descending: w.Desc}, nil
}

// DecodeFor decodes token and checks it was minted for the given direction.
func DecodeFor(token string, descending bool) (Token, error) {
	t, err := Decode(token)
	if err != nil {
		return Token{}, err
	}
	if t.Descending != descending {
		return Token{}, ErrInvalidToken
	}
	return t, nil
}

// Limits bounds caller-supplied page sizes.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits are used when no configuration overrides them.
var DefaultLimits = Limits{Default: 20, Max: 100}

// Normalize resolves the effective page size. A nil size selects the default and
// anything above Max is capped.
func (l Limits) Normalize(size *int) (int, error) {
	def := l.Default
	if def <= 0 {
		def = DefaultLimits.Default
	}
	limit := def
	if size != nil {
		if *size <= 0 {
			return 0, ErrInvalidPageSize
		}
		limit = *size
	}
	if l.Max > 0 && limit > l.Max {
		limit = l.Max
	}
	return limit, nil
}

// Page is one window of an ordered result set.
type Page[T any] struct {
	Items         []T
	NextPageToken *string
}

// Seek returns the suffix of ordered that sorts strictly after the key. ordered must
// already be sorted in the given direction.
func Seek[T any](ordered []T, after Key, descending bool, keyOf func(T) Key) []T {
	for i, item := range ordered {
		k := keyOf(item)
		if descending && k.Less(after) || !descending && after.Less(k) {
			return ordered[i:]
		}
	}
	return ordered[len(ordered):]
}

// Window trims a fetch of up to limit+1 items to one page. The extra item only
// signals that another page exists; the next token points at the last returned item.
func Window[T any](fetched []T, limit int, descending bool, keyOf func(T) Key) Page[T] {
	page := Page[T]{Items: fetched}
	if len(fetched) > limit {
		page.Items = fetched[:limit]
		next := Encode(keyOf(page.Items[limit-1]), descending)
		page.NextPageToken = &next
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
