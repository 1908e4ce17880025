package protocol

import "strings"

// markers that indicate machine-oriented payloads the operator pane
// should fold away rather than render verbatim.
var technicalMarkers = []string{
	"```",
	"[TOOL_CALL]",
	`"tool":`,
	`"args":`,
	`"arguments":`,
	"tool_call",
}

const braceThreshold = 4

// OperatorReadable reports whether a block body is plain enough for the
// operator pane. Dense structured payloads are summarized instead.
func OperatorReadable(body string) bool {
	braces := strings.Count(body, "{") + strings.Count(body, "}")
	if braces > braceThreshold {
		return false
	}
	lower := strings.ToLower(body)
	for _, marker := range technicalMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return false
		}
	}
	return true
}
