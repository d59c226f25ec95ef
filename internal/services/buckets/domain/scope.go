package domain

import (
	"strconv"

	apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"
)

// Scope partitions the bucket namespace. The zero value is the global scope.
type Scope struct {
	ownerID int64
	owned   bool
}

// GlobalScope returns the scope shared by every caller.
func GlobalScope() Scope {
	return Scope{}
}

// OwnerScope returns the scope isolated to one owner, such as a character.
func OwnerScope(ownerID int64) (Scope, error) {
	if ownerID <= 0 {
		return Scope{}, apperrors.WithMetadata(
			apperrors.CodeBucketInvalidScope,
			"owner id must be positive",
			map[string]string{"owner_id": strconv.FormatInt(ownerID, 10)},
		)
	}
	return Scope{ownerID: ownerID, owned: true}, nil
}

// OwnerID returns the owner id and whether the scope is owned.
func (s Scope) OwnerID() (int64, bool) {
	return s.ownerID, s.owned
}

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool {
	return !s.owned
}

func (s Scope) String() string {
	if !s.owned {
		return "global"
	}
	return "owner:" + strconv.FormatInt(s.ownerID, 10)
}
