package constants

// Dispatcher defaults
const (
	DefaultWorkerCount         = 4
	DefaultPollIntervalMs      = 500
	MinPollIntervalMs          = 250
	MaxPollIntervalMs          = 1000
	DefaultNoSessionDelaySec   = 60
	DefaultMaxAttempts         = 5
	DefaultRetryBaseSec        = 30
	DefaultRetryMaxDelaySec    = 3600
	DefaultSendTimeoutSec      = 30
	DefaultSendsPerSecond      = 5
	DefaultClassifyTimeoutSec  = 10
	DefaultCooldownMinutes     = 30
	DefaultGracefulShutdownSec = 30
)

// Session defaults
const (
	DefaultHourlyLimit = 20
	DefaultDailyLimit  = 200
)

// Retention and housekeeping defaults
const (
	DefaultRetentionDays        = 90
	DefaultCleanupIntervalHours = 24
	DefaultStaleClaimMinutes    = 15
)

// Database retry defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 2000
)

// Validation bounds
const (
	MaxWhatsAppTextLength     = 4096
	MaxInstagramTextLength    = 1000
	MaxRecipientKeyLength     = 128
	MaxCampaignIDLength       = 64
	MinPhoneNumberLength      = 10
	MaxAccountIDLength        = 128
	MaxListLimit              = 500
	DefaultListLimit          = 100
)

// HTTP server defaults
const (
	DefaultServerPort      = 8084
	ServerReadTimeoutSec   = 15
	ServerWriteTimeoutSec  = 15
	ServerIdleTimeoutSec   = 60
	ServerErrorChannelSize = 1
)

// Encryption constants
const (
	NonceSize                 = 12
	PBKDF2Iterations          = 100000
	EncryptionKeySize         = 32
	MinEncryptionSecretLength = 32
)
