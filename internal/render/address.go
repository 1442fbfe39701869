package render

import "strings"

// ParseAddress splits "Name <address>" into its parts. When the brackets are
// missing or out of order both parts are the raw input. The address is not
// validated or normalized.
func ParseAddress(raw string) (name string, address string) {
	lt := strings.Index(raw, "<")
	gt := strings.Index(raw, ">")
	if lt > -1 && gt > lt {
		return strings.TrimSpace(raw[:lt]), raw[lt+1 : gt]
	}
	return raw, raw
}
