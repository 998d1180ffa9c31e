package fileutil

import (
	"fmt"
	"strings"
	"time"
)

const maxFilenameLen = 255

const fallbackFilename = "file"

var invalidChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_",
	"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeFilename strips filesystem-illegal and control characters, collapses
// whitespace/underscore runs, trims leading/trailing dots, spaces and
// underscores, and caps the result at 255 bytes preserving the extension.
// An empty or fully stripped input yields "file".
func SanitizeFilename(name string) string {
	name = invalidChars.Replace(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r > 31 {
			b.WriteRune(r)
		}
	}
	name = b.String()

	for strings.Contains(name, "  ") {
		name = strings.ReplaceAll(name, "  ", " ")
	}
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}

	name = strings.Trim(name, ". _")
	if name == "" {
		return fallbackFilename
	}

	if len(name) > maxFilenameLen {
		base, ext := SplitExt(name)
		if ext != "" {
			maxBase := maxFilenameLen - len(ext) - 1
			if maxBase < 1 {
				maxBase = 1
			}
			if len(base) > maxBase {
				base = base[:maxBase]
			}
			name = base + "." + ext
		} else {
			name = name[:maxFilenameLen]
		}
		name = strings.Trim(name, ". _")
		if name == "" {
			return fallbackFilename
		}
	}

	return name
}

// SplitExt splits a filename into base and extension (without the dot).
func SplitExt(name string) (base, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

// Ext returns the lower-cased extension of name without the leading dot.
func Ext(name string) string {
	_, ext := SplitExt(name)
	return strings.ToLower(ext)
}

var videoExts = map[string]struct{}{
	"mp4": {}, "mkv": {}, "avi": {}, "mov": {}, "flv": {}, "wmv": {},
	"webm": {}, "m4v": {}, "mpg": {}, "mpeg": {}, "3gp": {}, "ts": {},
	"vob": {}, "ogv": {}, "m2ts": {}, "mts": {}, "rm": {}, "rmvb": {},
}

var audioExts = map[string]struct{}{
	"mp3": {}, "wav": {}, "flac": {}, "aac": {}, "ogg": {},
	"wma": {}, "m4a": {}, "opus": {}, "ape": {}, "alac": {},
}

var imageExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "bmp": {}, "webp": {}, "tiff": {},
}

func IsVideo(name string) bool {
	_, ok := videoExts[Ext(name)]
	return ok
}

func IsAudio(name string) bool {
	_, ok := audioExts[Ext(name)]
	return ok
}

func IsImage(name string) bool {
	_, ok := imageExts[Ext(name)]
	return ok
}

// FormatBytes renders a byte count in binary units, e.g. "1.2GiB".
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

// FormatSpeed renders a transfer rate in decimal steps, e.g. "3.4 MB/s".
func FormatSpeed(bytesPerSec float64) string {
	switch {
	case bytesPerSec < 1024:
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	case bytesPerSec < 1024*1024:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	case bytesPerSec < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
	default:
		return fmt.Sprintf("%.2f GB/s", bytesPerSec/(1024*1024*1024))
	}
}

// FormatDuration renders a duration as "4s", "2m 5s" or "1h 17m".
func FormatDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs <= 0 {
		return "0s"
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
