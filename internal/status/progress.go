package status

import "strings"

// ProgressInfo is the decoded argument list of a PROGRESS status line:
// "what type current total".
type ProgressInfo struct {
	What    string
	Type    byte
	Current int
	Total   int
}

// ParseProgress decodes the arguments of a PROGRESS line. It reports false for
// empty arguments and for the internal type 'X', which callers never see.
func ParseProgress(args string) (ProgressInfo, bool) {
	if args == "" {
		return ProgressInfo{}, false
	}

	fields := strings.SplitN(args, " ", 4)
	info := ProgressInfo{What: fields[0]}
	if len(fields) > 1 && fields[1] != "" {
		info.Type = fields[1][0]
	}
	if len(fields) > 2 {
		info.Current = leadingInt(fields[2])
	}
	if len(fields) > 3 {
		info.Total = leadingInt(fields[3])
	}

	if info.Type == 'X' {
		return ProgressInfo{}, false
	}
	return info, true
}

// leadingInt parses the decimal digits at the start of s, ignoring the rest.
func leadingInt(s string) int {
	s = strings.TrimLeft(s, " ")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		return -n
	}
	return n
}
