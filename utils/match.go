package utils

// StringMatch reports whether s matches the glob pattern. Supported
// syntax: '*' (any byte sequence), '?' (any single byte), '[a-z]' and
// '[^a-z]' classes, and '\' escaping the next byte. Unlike path.Match,
// every byte is ordinary data — there is no separator — and a malformed
// class simply fails to match instead of erroring.
func StringMatch(pattern, s string) bool {
	return stringMatch(pattern, s, false)
}

func stringMatch(pattern, s string, noCase bool) bool {
	p, n := 0, 0
	for p < len(pattern) {
		switch pattern[p] {
		case '*':
			for p+1 < len(pattern) && pattern[p+1] == '*' {
				p++
			}
			if p+1 == len(pattern) {
				return true
			}
			for i := n; i <= len(s); i++ {
				if stringMatch(pattern[p+1:], s[i:], noCase) {
					return true
				}
			}
			return false
		case '?':
			if n == len(s) {
				return false
			}
			n++
			p++
		case '[':
			if n == len(s) {
				return false
			}
			p++
			not := p < len(pattern) && pattern[p] == '^'
			if not {
				p++
			}
			match := false
			for p < len(pattern) && pattern[p] != ']' {
				switch {
				case pattern[p] == '\\' && p+1 < len(pattern):
					p++
					if pattern[p] == s[n] {
						match = true
					}
					p++
				case p+2 < len(pattern) && pattern[p+1] == '-':
					lo, hi := pattern[p], pattern[p+2]
					if lo > hi {
						lo, hi = hi, lo
					}
					if s[n] >= lo && s[n] <= hi {
						match = true
					}
					p += 3
				default:
					if pattern[p] == s[n] {
						match = true
					}
					p++
				}
			}
			if p == len(pattern) {
				// Unterminated class: never matches.
				return false
			}
			p++ // consume ']'
			if not {
				match = !match
			}
			if !match {
				return false
			}
			n++
		case '\\':
			if p+1 < len(pattern) {
				p++
			}
			fallthrough
		default:
			if n == len(s) || pattern[p] != s[n] {
				return false
			}
			n++
			p++
		}
	}
	return n == len(s)
}

// IsTailWildcard reports whether the pattern is a plain prefix followed
// by a single trailing '*', which lets scans seek straight to the prefix.
func IsTailWildcard(pattern string) bool {
	if len(pattern) < 2 || pattern[len(pattern)-1] != '*' {
		return false
	}
	for i := 0; i < len(pattern)-1; i++ {
		switch pattern[i] {
		case '*', '?', '[', '\\':
			return false
		}
	}
	return true
}

// TailWildcardPrefix returns the literal prefix of a tail-wildcard
// pattern, or "" when the pattern is not one.
func TailWildcardPrefix(pattern string) string {
	if !IsTailWildcard(pattern) {
		return ""
	}
	return pattern[:len(pattern)-1]
}
