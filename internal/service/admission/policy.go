package admission

import "time"

// ExtensionPolicy is the anti-sniping rule: a bid accepted inside Threshold
// of the deadline pushes the deadline out by Duration. There is no cap on
// the number of extensions.
type ExtensionPolicy struct {
	Threshold time.Duration
	Duration  time.Duration
}

// DefaultExtensionPolicy returns the platform default of 30s/30s.
func DefaultExtensionPolicy() ExtensionPolicy {
	return ExtensionPolicy{
		Threshold: 30 * time.Second,
		Duration:  30 * time.Second,
	}
}

// Enabled reports whether the policy does anything. A zero threshold or
// duration disables extension entirely.
func (p ExtensionPolicy) Enabled() bool {
	return p.Threshold > 0 && p.Duration > 0
}

// Config carries the admission tunables.
type Config struct {
	Extension ExtensionPolicy

	// GateWindow is the width of the per-bidder admission gate: one bid
	// attempt per bidder inside it, across all auctions. Zero means the
	// one-second default.
	GateWindow time.Duration
}

// DefaultConfig returns the platform defaults: 30s/30s anti-sniping and a
// one-second bid gate.
func DefaultConfig() Config {
	return Config{
		Extension:  DefaultExtensionPolicy(),
		GateWindow: defaultBidGateWindow,
	}
}
