package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds the path of the per-session log file using
// OS-appropriate path separators.
func LogFilePath(logsDir, appName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, sessionStart.Format("20060102_150405")),
	)
}
