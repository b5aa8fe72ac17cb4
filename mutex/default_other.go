//go:build !unix

package mutex

var processOpener = NewLocalOpener()

// DefaultOpener returns the opener used when none is configured. Without
// flock(2) the locks are only shared within this process.
func DefaultOpener() Opener {
	return processOpener
}
