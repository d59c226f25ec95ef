// Package errors provides structured error handling for bucket and ID range services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Bucket errors
	CodeBucketInvalidKey        Code = "BUCKET_INVALID_KEY"
	CodeBucketInvalidExpiration Code = "BUCKET_INVALID_EXPIRATION"
	CodeBucketInvalidScope      Code = "BUCKET_INVALID_SCOPE"
	CodeBucketInvalidValue      Code = "BUCKET_INVALID_VALUE"

	// ID range errors
	CodeIDRangeLockTimeout      Code = "ID_RANGE_LOCK_TIMEOUT"
	CodeIDRangeUnknownNamespace Code = "ID_RANGE_UNKNOWN_NAMESPACE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeBucketInvalidKey,
		CodeBucketInvalidExpiration,
		CodeBucketInvalidScope,
		CodeBucketInvalidValue,
		CodeIDRangeUnknownNamespace:
		return codes.InvalidArgument

	// Unavailable - the caller may try again later with fresh state
	case CodeIDRangeLockTimeout:
		return codes.Unavailable

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
