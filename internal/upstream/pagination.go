package upstream

import (
	"net/url"
	"strings"
)

// PageInfo holds the cursors advertised by the upstream Link header.
type PageInfo struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// ParseLink extracts page_info cursors from a Link header such as
//
//	<https://s/admin/api/2024-01/products.json?limit=50&page_info=abc>; rel="next"
//
// It returns nil when the header carries no cursor.
func ParseLink(header string) *PageInfo {
	if header == "" {
		return nil
	}
	var pi PageInfo
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		u, err := url.Parse(strings.Trim(target, "<>"))
		if err != nil {
			continue
		}
		cursor := u.Query().Get("page_info")
		if cursor == "" {
			continue
		}
		for _, p := range segs[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || !strings.EqualFold(k, "rel") {
				continue
			}
			switch strings.Trim(v, `"`) {
			case "next":
				pi.Next = cursor
			case "previous", "prev":
				pi.Previous = cursor
			}
		}
	}
	if pi == (PageInfo{}) {
		return nil
	}
	return &pi
}
