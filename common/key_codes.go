package common

// Virtual key codes delivered by the window's key callback.
// These values match GLFW key codes which use ASCII values for printable keys.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeySpace = 32  // Spacebar (ASCII)
	KeyR     = 82  // R key (ASCII)
	KeyEsc   = 256 // Escape key (GLFW)

	Key1 = 49 // 1 key (ASCII)
	Key2 = 50 // 2 key (ASCII)
	Key3 = 51 // 3 key (ASCII)
	Key4 = 52 // 4 key (ASCII)
	Key5 = 53 // 5 key (ASCII)
	Key6 = 54 // 6 key (ASCII)
	Key7 = 55 // 7 key (ASCII)
	Key8 = 56 // 8 key (ASCII)
	Key9 = 57 // 9 key (ASCII)
)

// DigitKey returns the digit 1-9 a key code represents.
//
// Parameters:
//   - keyCode: the virtual key code
//
// Returns:
//   - uint32: the digit
//   - bool: false if keyCode is not one of Key1..Key9
func DigitKey(keyCode uint32) (uint32, bool) {
	if keyCode < Key1 || keyCode > Key9 {
		return 0, false
	}
	return keyCode - Key1 + 1, true
}
