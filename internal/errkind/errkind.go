// Package errkind classifies control-plane and moderation-API errors so
// callers can decide fail-open behavior with errors.Is instead of string
// matching.
package errkind

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", Transient) to preserve
// classification through errors.Is while keeping a human-readable message.
var (
	// Transient covers network errors, 5xx, and timeouts talking to the
	// control plane or moderation API. Callers must return a neutral
	// answer and must not cache the result.
	Transient = errors.New("transient rpc error")

	// PolicyAbsent is a 404 on config-get: the channel has no configured
	// policy and should be treated (and cached) as disabled.
	PolicyAbsent = errors.New("policy absent")

	// RankAbsent is a 404 on rank-get: the user has no rank on record.
	RankAbsent = errors.New("rank absent")

	// AuthExpired is a 401/403 from the moderation API or the control
	// plane. Callers abandon the current action; no caller triggers a
	// credential refresh on it, so a new token arrives only through the
	// supervisor's periodic credential check.
	AuthExpired = errors.New("auth expired")

	// SchemaInvalid marks a payload missing a required field. Log and
	// fail open.
	SchemaInvalid = errors.New("invalid schema")

	// ConfigError marks a mutating command with an invalid argument. The
	// user is told; no state is touched.
	ConfigError = errors.New("invalid configuration argument")

	// FatalBoot marks an unrecoverable startup failure: missing secret,
	// failed initial token fetch, or unable to open either shard.
	FatalBoot = errors.New("fatal boot error")

	// NotFound is a plain 404 before a caller has classified it as
	// PolicyAbsent or RankAbsent for its specific endpoint.
	NotFound = errors.New("resource not found")
)

// Is reports whether err was produced with Wrap(kind, ...) or is kind
// itself.
func Is(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Wrap attaches a classification to err so errors.Is(wrapped, kind) holds
// while preserving err's message via %w-style chaining.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() []error {
	return []error{c.kind, c.err}
}
