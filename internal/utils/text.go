// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strings"
	"unicode/utf8"
)

// SplitText breaks s into chunks of at most max runes. Chunks end at the last
// newline inside the window when there is one, so lines stay intact where
// possible; a single over-long line is cut at the rune limit.
//
// Example:
//
//	parts := utils.SplitText(reply, 4096)
//
// An empty s yields no chunks. A max <= 0 returns s unsplit.
func SplitText(s string, max int) []string {
	if s == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return []string{s}
	}

	var out []string
	for s != "" {
		if utf8.RuneCountInString(s) <= max {
			out = append(out, s)
			break
		}
		// byte offset of the rune limit
		cut := 0
		for i := 0; i < max; i++ {
			_, size := utf8.DecodeRuneInString(s[cut:])
			cut += size
		}
		// a newline right at the limit still counts as a boundary
		end := cut
		if end < len(s) {
			end++
		}
		if nl := strings.LastIndexByte(s[:end], '\n'); nl > 0 {
			out = append(out, s[:nl])
			s = s[nl+1:]
			continue
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return out
}
