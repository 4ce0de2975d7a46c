package markup

import "strings"

// BlockText returns the concatenated content of every tag block of type tag in
// a complete text, and whether text contained any tag at all.
func BlockText(text string, tag TagType) (string, bool) {
	p := NewParser("", "")
	evs := append(p.Feed(text), p.Flush()...)

	var b strings.Builder
	for _, ev := range evs {
		if ev.TagType == tag && ev.Lifecycle == Content {
			b.WriteString(ev.Content)
		}
	}
	return b.String(), len(evs) > 0
}
