package domain

import (
	"strings"

	apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"
)

// KeySeparator separates path segments in a bucket key.
const KeySeparator = "."

// Key is a parsed bucket key.
type Key struct {
	// Root is the first segment and names the stored row.
	Root string
	// Path holds the segments below the root, outermost first.
	Path []string
}

// ParseKey splits raw on KeySeparator, dropping empty segments.
func ParseKey(raw string) (Key, error) {
	segments := make([]string, 0, strings.Count(raw, KeySeparator)+1)
	for _, segment := range strings.Split(raw, KeySeparator) {
		if segment == "" {
			continue
		}
		segments = append(segments, segment)
	}
	if len(segments) == 0 {
		return Key{}, apperrors.WithMetadata(
			apperrors.CodeBucketInvalidKey,
			"bucket key has no segments",
			map[string]string{"key": raw},
		)
	}
	return Key{Root: segments[0], Path: segments[1:]}, nil
}

// Depth reports the number of segments including the root.
func (k Key) Depth() int {
	return 1 + len(k.Path)
}

// IsRoot reports whether the key addresses a whole root document.
func (k Key) IsRoot() bool {
	return len(k.Path) == 0
}

// String joins the segments back into canonical dotted form.
func (k Key) String() string {
	if k.IsRoot() {
		return k.Root
	}
	return k.Root + KeySeparator + strings.Join(k.Path, KeySeparator)
}
