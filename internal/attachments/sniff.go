package attachments

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Sniffer detects the content type of raw bytes.
type Sniffer interface {
	// Sniff returns the MIME type without parameters and a file extension
	// including the dot, or "" when unknown.
	Sniff(data []byte) (mimeType, ext string)
}

// MimetypeSniffer detects types from magic numbers.
type MimetypeSniffer struct{}

// Sniff implements Sniffer.
func (MimetypeSniffer) Sniff(data []byte) (string, string) {
	m := mimetype.Detect(data)
	return baseType(m.String()), m.Extension()
}

// AllowList matches MIME types against exact entries and "type/*" wildcards.
type AllowList struct {
	exact    map[string]struct{}
	prefixes []string
	any      bool
}

// NewAllowList builds an AllowList. An empty list allows nothing.
func NewAllowList(types []string) AllowList {
	a := AllowList{exact: make(map[string]struct{}, len(types))}
	for _, t := range types {
		t = baseType(t)
		switch {
		case t == "":
		case t == "*/*" || t == "*":
			a.any = true
		case strings.HasSuffix(t, "/*"):
			a.prefixes = append(a.prefixes, strings.TrimSuffix(t, "*"))
		default:
			a.exact[t] = struct{}{}
		}
	}
	return a
}

// Allows reports whether mimeType is accepted.
func (a AllowList) Allows(mimeType string) bool {
	mimeType = baseType(mimeType)
	if mimeType == "" {
		return false
	}
	if a.any {
		return true
	}
	if _, ok := a.exact[mimeType]; ok {
		return true
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(mimeType, p) {
			return true
		}
	}
	return false
}

func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}
