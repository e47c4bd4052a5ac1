package pandoc

import (
	"path/filepath"
	"regexp"
	"strings"
)

// safeStem matches filename stems that can be used verbatim in the exports
// area without risking traversal or injection via user-supplied names.
var safeStem = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// OutputName picks the converted file's name: the stem of the original
// filename when it contains only safe characters, otherwise the task id.
// Path components in the original name are always stripped.
func OutputName(originalFilename, taskID, format string) string {
	ext := strings.TrimPrefix(format, ".")
	if originalFilename != "" {
		stem := filepath.Base(originalFilename)
		stem = strings.TrimSuffix(stem, filepath.Ext(stem))
		stem = strings.TrimSpace(stem)
		if stem != "" && safeStem.MatchString(stem) {
			return stem + "." + ext
		}
	}
	return taskID + "." + ext
}
