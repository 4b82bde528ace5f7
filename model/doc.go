// Package model defines the shared data types of the slidecache subsystem:
// photo identity, ordered photo collections, and decoded bitmaps.
//
// The package has no dependencies on the cache machinery so that decoders,
// byte stores and UI layers can share these types without import cycles.
package model
