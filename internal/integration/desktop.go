package integration

import (
	"regexp"
)

var (
	execLine = regexp.MustCompile(`(?m)^Exec=[^\r\n]*`)
	iconLine = regexp.MustCompile(`(?m)^Icon=[^\r\n]*`)
)

// RewriteDesktopEntry points every Exec= line at execPath and every Icon=
// line at iconName. All other bytes, line endings included, are unchanged.
func RewriteDesktopEntry(content []byte, execPath, iconName string) []byte {
	out := execLine.ReplaceAllLiteral(content, []byte("Exec="+execPath))
	return iconLine.ReplaceAllLiteral(out, []byte("Icon="+iconName))
}
