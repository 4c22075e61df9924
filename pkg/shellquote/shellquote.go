// Package shellquote renders commands as POSIX shell lines that can be pasted into a terminal.
package shellquote

import "strings"

// plain holds the characters that never need quoting.
const plain = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_@%+=:,./-"

// Quote returns s unchanged when it only holds plain characters,
// otherwise wrapped in single quotes. An embedded single quote becomes '\''.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if strings.Trim(s, plain) == "" {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join quotes bin and args and joins them with spaces.
func Join(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(bin))

	for _, arg := range args {
		parts = append(parts, Quote(arg))
	}

	return strings.Join(parts, " ")
}
