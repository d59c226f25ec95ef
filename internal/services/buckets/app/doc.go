// Package app wires the bucket document store and the ID range allocators.
//
// Service implements hierarchical get/set/delete over bucket roots on top of
// a storage.BucketStore and a process-wide cache.Cache. Buckets binds a
// Service to one scope and exposes the calls game logic makes. Allocator and
// IDRanges mint disjoint identifier blocks through a storage.CounterStore.
package app
