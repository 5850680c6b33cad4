package sandbox

import (
	"errors"
	"strings"
)

// Characters that would let a flag path escape the injection command.
const pathForbidden = ";&|$`'\"\\<>(){}[]*?~\n\r\t "

var errUnsafePath = errors.New("flag path contains forbidden characters")

// sanitizePath rejects non-absolute paths and shell metacharacters.
func sanitizePath(path string) error {
	if path == "" || !strings.HasPrefix(path, "/") {
		return errUnsafePath
	}
	if strings.ContainsAny(path, pathForbidden) {
		return errUnsafePath
	}
	if strings.Contains(path, "..") {
		return errUnsafePath
	}
	return nil
}

// shellQuote wraps s in single quotes, escaping embedded single quotes so
// the value is inert to the shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
