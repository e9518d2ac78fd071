package device

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// OverrideEnv pins the fingerprint, e.g. for CI or a mobile host that
// supplies ANDROID_ID / identifierForVendor itself.
const OverrideEnv = "CIVIC_DEVICE_ID"

// ErrNoFingerprint is returned when no stable hardware identifier is found.
var ErrNoFingerprint = errors.New("no device fingerprint found")

var linuxIDFiles = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
	"/sys/class/dmi/id/product_uuid",
}

// Fingerprint returns a stable identifier for the current device. It is used
// to bind the secure storage key to the machine it was created on.
func Fingerprint() (string, error) {
	if v := strings.TrimSpace(os.Getenv(OverrideEnv)); v != "" {
		return v, nil
	}
	switch runtime.GOOS {
	case "darwin":
		return macOSUUID()
	case "linux":
		return firstNonEmptyFile(linuxIDFiles)
	case "windows":
		return windowsUUID()
	case "android", "ios":
		return "", errors.New(runtime.GOOS + ": device id must be provided by the app via " + OverrideEnv)
	default:
		return "", errors.New("unsupported platform: " + runtime.GOOS)
	}
}

func firstNonEmptyFile(paths []string) (string, error) {
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	return "", ErrNoFingerprint
}

func macOSUUID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 {
			return parts[3], nil
		}
	}
	return "", ErrNoFingerprint
}

func windowsUUID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		s := strings.TrimSpace(string(line))
		if s != "" && !strings.EqualFold(s, "UUID") {
			return s, nil
		}
	}
	return "", ErrNoFingerprint
}
