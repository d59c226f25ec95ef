package domain

import apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"

var (
	// ErrInvalidKey matches any error raised for an empty or unparseable key.
	ErrInvalidKey = apperrors.New(apperrors.CodeBucketInvalidKey, "invalid bucket key")
	// ErrInvalidExpiration matches any error raised for an unparseable expiration code.
	ErrInvalidExpiration = apperrors.New(apperrors.CodeBucketInvalidExpiration, "invalid bucket expiration")
	// ErrInvalidValue matches any error raised for a value that cannot be stored
	// inside an Object.
	ErrInvalidValue = apperrors.New(apperrors.CodeBucketInvalidValue, "invalid bucket value")
	// ErrInvalidScope matches any error raised for a non-positive owner id.
	ErrInvalidScope = apperrors.New(apperrors.CodeBucketInvalidScope, "invalid bucket scope")
)
