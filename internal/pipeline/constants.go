package pipeline

// Defaults for mailbox sync and maintenance.
const (
	// DefaultSyncDays is the backfill window when a request gives none.
	DefaultSyncDays = 120

	// MaxSyncDays caps the backfill window.
	MaxSyncDays = 3650

	// DefaultMaxPages caps the listing pages scanned per sync.
	DefaultMaxPages = 20

	// DefaultReparseLimit caps the facts re-derived per maintenance pass.
	DefaultReparseLimit = 1000

	// DefaultModelName is the default Gemini model used for fallback classification.
	DefaultModelName = "gemini-2.5-flash"
)
