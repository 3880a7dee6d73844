// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Fingerprint constants
const (
	// HashBits is the bit length of each perceptual fingerprint.
	// Matches a 16x16 hash grid (pHash low-frequency block / dHash comparisons).
	HashBits = 256

	// DefaultThreshold is the default maximum Hamming distance (out of HashBits)
	// at which two perceptual fingerprints are considered similar.
	// Lower values = stricter matching.
	DefaultThreshold = 10

	// StrictThreshold is a tighter threshold for high-confidence matches only
	StrictThreshold = 4
)

// Scan constants
const (
	// DefaultPageSize is the default number of items to fetch per listing page
	DefaultPageSize = 100

	// WorkerPoolSize is the default number of parallel thumbnail fetch workers
	WorkerPoolSize = 8

	// DefaultThumbSize is the thumbnail edge length requested for hashing.
	// 512px carries enough detail for a 256-bit perceptual hash.
	DefaultThumbSize = 512

	// DefaultFetchRetries is the retry budget for transient thumbnail fetch errors
	DefaultFetchRetries = 3

	// DefaultFetchTimeoutSec is the per-request timeout for thumbnail downloads
	DefaultFetchTimeoutSec = 30
)

// Store constants
const (
	// DefaultSQLitePath is the default location of the local scan database
	DefaultSQLitePath = "photos.db"

	// DefaultMaxOpenConns is the default maximum of open SQL connections
	DefaultMaxOpenConns = 25

	// DefaultMaxIdleConns is the default maximum of idle SQL connections
	DefaultMaxIdleConns = 5
)
