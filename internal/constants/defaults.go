package constants

// Default delivery configuration values
const (
	DefaultAttemptTimeoutSec = 15
	DefaultProbeTimeoutSec   = 10
	DefaultRetryBackoffMs    = 1000
	DefaultMaxBackoffMs      = 60000
	DefaultFlushMaxAttempts  = 3
	DefaultServerPort        = 8082
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultStoreRetryAttempts    = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Offline queue settings
const (
	// OfflineIDPrefix marks client-assigned ids for messages queued locally.
	OfflineIDPrefix = "local_"
	// MaxAttemptHistory bounds the dispatcher's retained attempt records.
	MaxAttemptHistory = 100
	// MaxResponseBodyBytes bounds how much of a response body an attempt keeps.
	MaxResponseBodyBytes = 64 * 1024
)

// FormatProbeContent is the fixed synthetic body used by format discovery so
// test sends are identifiable (and cleanable) on the backend.
const FormatProbeContent = "[dmrelay-probe] synthetic format test message"

// Encryption settings for the offline store
const (
	NonceSize        = 12
	PBKDF2Iterations = 100000
	KeySize          = 32
	EncryptionSalt   = "dmrelay-offline-store-v1"
)

// Server channel sizes
const (
	ServerErrorChannelSize = 1
)
