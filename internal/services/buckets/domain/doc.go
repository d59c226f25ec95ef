// Package domain defines bucket keys, scopes, document trees and expiration
// codes.
//
// A bucket key is a dot-delimited path. Its first segment names the root,
// which is the unit of storage: one row per (scope, root). The remaining
// segments address a position inside the root's document tree.
//
// Documents are parsed from their stored text on every access and never kept
// as live structures between calls. A stored value that is a JSON object
// becomes an Object node; anything else is a Scalar holding the raw text.
package domain
