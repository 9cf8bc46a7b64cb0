//go:build !linux

package arbiter

// DefaultOpener returns the opener used when Config.Opener is nil.
func DefaultOpener() Opener { return PortableOpener{} }
