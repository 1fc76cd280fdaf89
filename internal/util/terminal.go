package util

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// IsTerminal checks if the given file descriptor is a terminal
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// ShowProgress reports whether a progress bar should be drawn on stdout
func ShowProgress() bool {
	return IsTerminal(os.Stdout.Fd()) && !IsQuiet()
}

// FormatCount renders an integer with thousands separators
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatFileSize returns the human-readable size of the file at path,
// or "-" when it cannot be stat'd
func FormatFileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return humanize.Bytes(uint64(info.Size()))
}

// FormatMagnitude renders a magnitude limit the way the CLI prints it
func FormatMagnitude(mag float64) string {
	return fmt.Sprintf("%.2f", mag)
}
