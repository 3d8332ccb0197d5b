// Package fsutil provides file and path utility functions for batch runs.
//
// It covers output naming, resume checks, JSON sidecars and human-readable
// formatting used in log lines.
package fsutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Common path constants.
const (
	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o600
	invalidCharReplacement = "_"
	unnamedFilename        = "unnamed"
	maxFilenameRunes       = 64
	indexFilenameFormat    = "%03d"
	jsonIndent             = "  "
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Audio file extensions accepted as speaker references.
const (
	extWAV  = ".wav"
	extMP3  = ".mp3"
	extFLAC = ".flac"
	extOGG  = ".ogg"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtFailedToMarshal   = "failed to marshal %s: %w"
	errFmtFailedToWrite     = "failed to write %s: %w"
)

var (
	forbiddenCharsPattern = regexp.MustCompile(`[\\/:*?"<>|]`)
	whitespaceRunPattern  = regexp.MustCompile(`\s+`)
)

// FieldSource exposes string fields of an input record.
type FieldSource interface {
	String(field string) (string, bool)
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, defaultDirPermissions)
	if err != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, err)
	}

	return nil
}

// EnsureParentDir creates the directory that will contain path.
func EnsureParentDir(path string) error {
	return EnsureDir(filepath.Dir(path))
}

// FileExists reports whether a regular file or directory exists at path.
func FileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// ShouldSkip reports whether an output can be skipped on a resumed run.
func ShouldSkip(outputPath string, resume bool) bool {
	return resume && FileExists(outputPath)
}

// IndexFilename returns the zero-padded base name for a 1-based item index.
func IndexFilename(index int) string {
	return fmt.Sprintf(indexFilenameFormat, index)
}

// DeriveFilename picks the output base name for an item. When field is set and
// the item holds a non-blank string under it, the sanitized value is used;
// otherwise the index name is returned.
func DeriveFilename(index int, item FieldSource, field string) string {
	if field != "" && item != nil {
		value, ok := item.String(field)
		if trimmed := strings.TrimSpace(value); ok && trimmed != "" {
			return SanitizeFilename(trimmed)
		}
	}

	return IndexFilename(index)
}

// SanitizeFilename makes a string safe to use as a file name on common filesystems.
// The result is NFKD-normalized, has no path separators or reserved characters,
// uses underscores for whitespace, and is at most 64 runes long.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)
	name = forbiddenCharsPattern.ReplaceAllString(name, invalidCharReplacement)
	name = whitespaceRunPattern.ReplaceAllString(name, invalidCharReplacement)
	name = strings.Trim(name, " _")

	runes := []rune(name)
	if len(runes) > maxFilenameRunes {
		name = string(runes[:maxFilenameRunes])
	}

	if name == "" {
		return unnamedFilename
	}

	return name
}

// WriteJSON writes data as indented JSON, keeping non-ASCII text readable.
func WriteJSON(path string, data any) error {
	return writeJSON(path, data, jsonIndent)
}

// WriteJSONIndent writes data as JSON using the given indent string.
func WriteJSONIndent(path string, data any, indent string) error {
	return writeJSON(path, data, indent)
}

func writeJSON(path string, data any, indent string) error {
	var buffer bytes.Buffer

	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", indent)

	err := encoder.Encode(data)
	if err != nil {
		return fmt.Errorf(errFmtFailedToMarshal, path, err)
	}

	err = EnsureParentDir(path)
	if err != nil {
		return err
	}

	err = os.WriteFile(path, bytes.TrimRight(buffer.Bytes(), "\n"), defaultFilePermissions)
	if err != nil {
		return fmt.Errorf(errFmtFailedToWrite, path, err)
	}

	return nil
}

// WriteFile writes raw bytes, creating the parent directory when needed.
func WriteFile(path string, data []byte) error {
	err := EnsureParentDir(path)
	if err != nil {
		return err
	}

	err = os.WriteFile(path, data, defaultFilePermissions)
	if err != nil {
		return fmt.Errorf(errFmtFailedToWrite, path, err)
	}

	return nil
}

// AppendLine appends a single line to path, creating the file if needed.
func AppendLine(path string, line []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	_, writeErr := file.Write(append(line, '\n'))
	closeErr := file.Close()

	return errors.Join(writeErr, closeErr)
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(size int64) string {
	switch {
	case size >= gigabyte:
		return fmt.Sprintf(formatGB, float64(size)/gigabyte)
	case size >= megabyte:
		return fmt.Sprintf(formatMB, float64(size)/megabyte)
	case size >= kilobyte:
		return fmt.Sprintf(formatKB, float64(size)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, size)
	}
}

// IsValidAudioFile checks if a filename has an audio extension usable as a
// speaker reference.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG:
		return true
	default:
		return false
	}
}
