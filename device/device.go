// Package device abstracts the Android device transport: capture,
// accessibility dumps, and input injection over adb.
package device

import "context"

// Connectivity statuses reported by Status.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusUnauthorized = "unauthorized"
	StatusOffline      = "offline"
	StatusADBMissing   = "adb_missing"
	StatusError        = "error"
)

// StatusInfo describes the current device connectivity.
type StatusInfo struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Device  string `json:"device,omitempty"`
}

// Connected reports whether the device is usable.
func (s StatusInfo) Connected() bool { return s.Status == StatusConnected }

// Controller is the device transport contract. Implementations wrap a real
// adb binary or a test double; all blocking operations take a context.
type Controller interface {
	// Status classifies the current connectivity. It never returns an
	// error: failures are folded into the status itself.
	Status(ctx context.Context) StatusInfo

	// Screenshot captures the screen and returns PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// DumpHierarchy returns the accessibility tree as XML markup.
	DumpHierarchy(ctx context.Context) (string, error)

	// ScreenSize returns the physical screen dimensions in pixels.
	ScreenSize(ctx context.Context) (width, height int, err error)

	// Tap injects a tap at pixel coordinates.
	Tap(ctx context.Context, x, y int) error

	// InputText types text into the focused field.
	InputText(ctx context.Context, text string) error

	// PressKey sends an Android keycode (e.g. "KEYCODE_BACK").
	PressKey(ctx context.Context, keycode string) error

	// Swipe performs a swipe gesture over the given duration.
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error

	// CurrentPackage returns the foreground app package name, or
	// "unknown" when it cannot be determined.
	CurrentPackage(ctx context.Context) (string, error)
}
