package domain

import (
	"errors"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var ErrNoRecipients = errors.New("no_recipients")

// ParseRecipients splits a comma, semicolon or newline separated address list.
func ParseRecipients(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})
}

// NormalizeRecipients unions the lists, lowercases, drops blanks, dedupes and sorts.
func NormalizeRecipients(lists ...[]string) []string {
	all := lo.Flatten(lists)
	cleaned := lo.FilterMap(all, func(addr string, _ int) (string, bool) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		return addr, addr != ""
	})
	out := lo.Uniq(cleaned)
	sort.Strings(out)
	return out
}
