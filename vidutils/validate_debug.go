//go:build debug_vid_driver

package vidutils

import "fmt"

// DebugEnabled reports whether the module was built with the debug_vid_driver build tag
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_vid_driver build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheck panics with the formatted message if cond is false. This method no-ops unless the
// debug_vid_driver build tag is present.
func DebugCheck(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
