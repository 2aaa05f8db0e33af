// Package platform describes what the host OS lets the viewer do. It is
// resolved once at startup and passed to the components that branch on it.
package platform

import (
	"os"
	"runtime"
)

const (
	webviewArgsEnv = "WEBVIEW2_ADDITIONAL_BROWSER_ARGUMENTS"
	webviewArgs    = "--enable-features=SmoothScrolling"
	windowsEditor  = "notepad.exe"
)

// Capabilities is the platform profile of the running process.
type Capabilities struct {
	OS string
}

// Detect returns the capabilities of the current process.
func Detect() Capabilities {
	return Capabilities{OS: runtime.GOOS}
}

// Windows reports whether the process runs on Windows, the one platform with
// a built-in editor launch and a webview tuning flag.
func (c Capabilities) Windows() bool {
	return c.OS == "windows"
}

// DefaultEditor returns the platform editor program, or "" when the platform
// has none.
func (c Capabilities) DefaultEditor() string {
	if c.Windows() {
		return windowsEditor
	}
	return ""
}

// BrowserCommand returns the program that opens a URL, passed as its last
// argument, in the default browser.
func (c Capabilities) BrowserCommand() (string, []string) {
	switch c.OS {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	case "darwin":
		return "open", nil
	default:
		return "xdg-open", nil
	}
}

// ApplyEnvironment sets the browser-engine flags the UI shell reads at
// startup. setenv defaults to os.Setenv.
func (c Capabilities) ApplyEnvironment(setenv func(key, value string) error) error {
	if !c.Windows() {
		return nil
	}
	if setenv == nil {
		setenv = os.Setenv
	}
	return setenv(webviewArgsEnv, webviewArgs)
}
