package shim

import "strings"

// expandFormat substitutes the handful of tmux format tokens the shim
// understands. Unknown tokens pass through literally, matching
// commands.rs's expand_format.
func expandFormat(format, paneID, sessionName, windowIndex, windowName, paneTitle string) string {
	r := strings.NewReplacer(
		"#{pane_id}", paneID,
		"#{session_name}", sessionName,
		"#{window_index}", windowIndex,
		"#{window_name}", windowName,
		"#{pane_title}", paneTitle,
	)
	return r.Replace(format)
}
