//go:build !debug_vid_driver

package vidutils

// DebugEnabled reports whether the module was built with the debug_vid_driver build tag
const DebugEnabled = false

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_vid_driver build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheck panics with the formatted message if cond is false. This method no-ops unless the
// debug_vid_driver build tag is present.
func DebugCheck(cond bool, format string, args ...any) {
}
