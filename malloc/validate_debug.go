// +build debug

package malloc

// validateFn runs the full O(n) cross-check after every Allocate,
// Deallocate and Reset in a debug build. Release builds skip this;
// see validate_release.go.
func validateFn(a *Allocator) {
	a.Validate()
}
