package main

import "fmt"

// formatSize mirrors the teacher's ConvertBytesToHumanReadable
// (internal/utils/size_converter.go): base-1024 units, one decimal place.
func formatSize(n int64) string {
	if n < 0 {
		return "?"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// shortID truncates a task id for table display, matching the teacher's
// cmd/ls.go 8-character id column.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveTaskID expands a (possibly abbreviated) id prefix to the one
// live handle it matches, mirroring the teacher's cmd/rm.go
// resolveDownloadID. Ambiguous or empty prefixes are rejected.
func resolveTaskID(prefix string) (string, error) {
	var match string
	count := 0
	for _, h := range current.reg.List() {
		id := h.TaskID()
		if id == prefix {
			return id, nil
		}
		if len(prefix) >= 4 && len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			match = id
			count++
		}
	}
	if count == 1 {
		return match, nil
	}
	if count > 1 {
		return "", fmt.Errorf("ambiguous task id %q matches %d tasks", prefix, count)
	}
	return "", fmt.Errorf("no task matches id %q", prefix)
}
