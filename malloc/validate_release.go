// +build !debug

package malloc

// validateFn is a no-op in release builds. The cheap, always-on
// preconditions in Allocate and Deallocate (size validity, alignment,
// pool containment) still run regardless of this build tag; only the
// expensive full free-list walk is gated.
func validateFn(a *Allocator) {}
