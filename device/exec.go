package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ExecController drives a device through the adb CLI. It tracks the serial
// of the device it last used and falls back to the first available device
// when that one disappears.
type ExecController struct {
	adbPath string
	logger  *slog.Logger

	mu     sync.Mutex
	serial string
}

// NewExecController creates a controller using the given adb binary path
// ("adb" resolves via PATH). logger may be nil.
func NewExecController(adbPath string, logger *slog.Logger) *ExecController {
	if adbPath == "" {
		adbPath = "adb"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecController{adbPath: adbPath, logger: logger}
}

func (c *ExecController) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.adbPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("device: adb %s: %s", args[0], msg)
	}
	return stdout.Bytes(), nil
}

func (c *ExecController) shell(ctx context.Context, serial string, args ...string) (string, error) {
	full := append([]string{"-s", serial, "shell"}, args...)
	out, err := c.run(ctx, full...)
	return string(out), err
}

// deviceList returns the serials of attached, authorized devices.
func (c *ExecController) deviceList(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "devices")
	if err != nil {
		return nil, err
	}

	var serials []string
	lines := strings.Split(string(out), "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" { // header
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials, nil
}

// current returns the tracked serial, re-discovering when it is gone.
func (c *ExecController) current(ctx context.Context) (string, error) {
	serials, err := c.deviceList(ctx)
	if err != nil {
		return "", err
	}
	if len(serials) == 0 {
		c.mu.Lock()
		c.serial = ""
		c.mu.Unlock()
		return "", fmt.Errorf("device: no devices attached")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range serials {
		if s == c.serial {
			return s, nil
		}
	}
	c.serial = serials[0]
	c.logger.Info("device: connected", "serial", c.serial)
	return c.serial, nil
}

// Status classifies the connectivity of the tracked device. All failures
// are folded into the status: adb binary missing, no devices, unauthorized
// or offline devices, and everything else as a generic error.
func (c *ExecController) Status(ctx context.Context) StatusInfo {
	if _, err := c.run(ctx, "version"); err != nil {
		return StatusInfo{Status: StatusADBMissing, Message: "adb not installed or server not running"}
	}

	serials, err := c.deviceList(ctx)
	if err != nil {
		return StatusInfo{Status: StatusError, Message: err.Error()}
	}
	if len(serials) == 0 {
		c.mu.Lock()
		c.serial = ""
		c.mu.Unlock()
		return StatusInfo{Status: StatusDisconnected, Message: "no devices found"}
	}

	serial, err := c.current(ctx)
	if err != nil {
		return StatusInfo{Status: StatusError, Message: err.Error()}
	}

	// An unauthorized or offline device still lists; a trivial shell
	// round-trip surfaces the real state.
	if _, err := c.shell(ctx, serial, "echo", "ok"); err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "unauthorized"):
			return StatusInfo{Status: StatusUnauthorized, Message: "device unauthorized", Device: serial}
		case strings.Contains(msg, "offline"):
			return StatusInfo{Status: StatusOffline, Message: "device offline", Device: serial}
		default:
			return StatusInfo{Status: StatusError, Message: err.Error(), Device: serial}
		}
	}

	return StatusInfo{Status: StatusConnected, Message: "connected", Device: serial}
}

// Screenshot captures the screen as PNG via exec-out screencap.
func (c *ExecController) Screenshot(ctx context.Context) ([]byte, error) {
	serial, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, "-s", serial, "exec-out", "screencap", "-p")
}

// DumpHierarchy returns the uiautomator accessibility dump. Output after
// the closing hierarchy tag (uiautomator's status line) is trimmed.
func (c *ExecController) DumpHierarchy(ctx context.Context) (string, error) {
	serial, err := c.current(ctx)
	if err != nil {
		return "", err
	}
	out, err := c.shell(ctx, serial, "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return "", err
	}
	if i := strings.LastIndex(out, "</hierarchy>"); i >= 0 {
		out = out[:i+len("</hierarchy>")]
	}
	return out, nil
}

// ScreenSize parses `wm size` output of the form "Physical size: 1080x2340".
func (c *ExecController) ScreenSize(ctx context.Context) (int, int, error) {
	serial, err := c.current(ctx)
	if err != nil {
		return 0, 0, err
	}
	out, err := c.shell(ctx, serial, "wm", "size")
	if err != nil {
		return 0, 0, err
	}

	_, size, ok := strings.Cut(out, ":")
	if !ok {
		return 0, 0, fmt.Errorf("device: unexpected wm size output %q", strings.TrimSpace(out))
	}
	w, h, ok := strings.Cut(strings.TrimSpace(size), "x")
	if !ok {
		return 0, 0, fmt.Errorf("device: unexpected wm size output %q", strings.TrimSpace(out))
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("device: parse width: %w", err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("device: parse height: %w", err)
	}
	return width, height, nil
}

// Tap injects a tap at pixel coordinates.
func (c *ExecController) Tap(ctx context.Context, x, y int) error {
	serial, err := c.current(ctx)
	if err != nil {
		return err
	}
	_, err = c.shell(ctx, serial, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// InputText types text into the focused field. Spaces are encoded as %s
// per the input command's convention.
func (c *ExecController) InputText(ctx context.Context, text string) error {
	serial, err := c.current(ctx)
	if err != nil {
		return err
	}
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err = c.shell(ctx, serial, "input", "text", escaped)
	return err
}

// PressKey sends an Android keycode.
func (c *ExecController) PressKey(ctx context.Context, keycode string) error {
	serial, err := c.current(ctx)
	if err != nil {
		return err
	}
	_, err = c.shell(ctx, serial, "input", "keyevent", keycode)
	return err
}

// Swipe performs a swipe gesture.
func (c *ExecController) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	serial, err := c.current(ctx)
	if err != nil {
		return err
	}
	_, err = c.shell(ctx, serial, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(durationMs))
	return err
}

// CurrentPackage extracts the foreground package from the window manager's
// current-focus line, or "unknown".
func (c *ExecController) CurrentPackage(ctx context.Context) (string, error) {
	serial, err := c.current(ctx)
	if err != nil {
		return "", err
	}
	out, err := c.shell(ctx, serial, "dumpsys", "window", "windows")
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "mCurrentFocus") || !strings.Contains(line, "Window{") {
			continue
		}
		for _, part := range strings.Fields(line) {
			if strings.Contains(part, "/") {
				return strings.SplitN(part, "/", 2)[0], nil
			}
		}
	}
	return "unknown", nil
}
