package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// RenewOutputPath returns outputPath unchanged when it is free, otherwise the
// first "name-(n).ext" that neither exists on disk nor is reported by inUse.
func RenewOutputPath(outputPath string, inUse func(string) bool) string {
	taken := func(p string) bool {
		if inUse != nil && inUse(p) {
			return true
		}
		_, err := os.Stat(p)
		return !os.IsNotExist(err)
	}
	if !taken(outputPath) {
		return outputPath
	}
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if !taken(outputPath) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// GetFileType classifies a file name by its extension, case-insensitively.
func GetFileType(fileName string) FileType {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return FileTypeOther
}

func ComputeProgress(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(downloaded) / float64(total) * 100
}

// ComputeRemaining returns nil when the rate is unknown.
func ComputeRemaining(downloaded, total, speed int64) *int64 {
	if speed <= 0 {
		return nil
	}
	left := max(total-downloaded, 0)
	secs := left / speed
	return &secs
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatRate(bps int64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return FormatBytes(uint64(bps)) + "/s"
}

func FormatETA(seconds *int64) string {
	if seconds == nil {
		return "--"
	}
	s := *seconds
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	}
}
