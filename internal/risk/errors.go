package risk

import "errors"

var (
	// ErrProviderUnavailable marks a signal provider failure or timeout. The
	// aggregator converts it into a degraded field; it never rejects a trade
	// by itself.
	ErrProviderUnavailable = errors.New("signal provider unavailable")

	// ErrStaleData marks a cached signal older than its refresh interval.
	// Warning-grade: surfaced in ValidationResult.Warnings, not as a reject.
	ErrStaleData = errors.New("cached signal is stale")

	// ErrHardLimit marks a layer-1 rule failure. Fatal to the request.
	ErrHardLimit = errors.New("hard limit violated")

	// ErrKillSwitch marks the global halt state.
	ErrKillSwitch = errors.New("kill switch triggered")

	// ErrDuplicateClose is returned when a trade id is closed twice.
	ErrDuplicateClose = errors.New("trade already closed")

	// ErrUnknownTrade is returned for close calls on ids never opened.
	ErrUnknownTrade = errors.New("unknown trade id")

	// ErrDuplicateOpen is returned when a trade id is opened twice.
	ErrDuplicateOpen = errors.New("trade already open")

	// ErrConcurrencyCap is returned when an open would push the count of
	// open trades past the concurrency cap.
	ErrConcurrencyCap = errors.New("concurrent open trades at cap")

	// ErrConfigLoad marks missing or malformed configuration at startup.
	ErrConfigLoad = errors.New("config load failed")
)
