//go:build unix

package mutex

// DefaultOpener returns the opener used when none is configured: host-wide
// file locks under DefaultDir.
func DefaultOpener() Opener {
	return NewFileOpener(DefaultDir())
}
