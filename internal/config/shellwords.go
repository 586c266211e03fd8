package config

import (
	"fmt"
	"strings"
	"unicode"
)

// splitCommand breaks a shell-style command line into argv. Single and
// double quotes group words, a backslash escapes the next rune, and a line
// starting with # is commented out.
func splitCommand(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	runes := []rune(line)
	var args []string
	var word []rune

	flush := func() {
		if len(word) > 0 {
			args = append(args, string(word))
			word = word[:0]
		}
	}

	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case r == '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("unterminated escape sequence in command: %q", line)
			}
			i++
			word = append(word, runes[i])
		case r == '\'' || r == '"':
			closing := r
			i++
			for i < len(runes) && runes[i] != closing {
				if runes[i] == '\\' {
					if i+1 >= len(runes) {
						return nil, fmt.Errorf("unterminated escape sequence in command: %q", line)
					}
					i++
				}
				word = append(word, runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("unterminated quote in command: %q", line)
			}
		case unicode.IsSpace(r):
			flush()
		default:
			word = append(word, r)
		}
	}

	flush()
	return args, nil
}

func mustSplitCommand(line string) []string {
	args, err := splitCommand(line)
	if err != nil {
		panic(err)
	}
	return args
}
