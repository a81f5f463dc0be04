// Package refmark parses the inline page-reference markers that the
// assistant is instructed to emit ("[See Page 3]") and turns answer text
// into renderable segments without altering the surrounding prose.
package refmark

import (
	"regexp"
	"strconv"
)

const (
	SegmentText    = "text"
	SegmentPageRef = "page_ref"
)

// Matching is case-insensitive on the literal words; the page label text a
// document uses for display never affects matching.
var markerPattern = regexp.MustCompile(`(?i)\[see page (\d+)\]`)

// Segment is one span of rendered assistant output. Text segments pass the
// source through unmodified, including whitespace; page_ref segments become
// clickable tokens bound to their page number.
type Segment struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Page int    `json:"page,omitempty"`
}

// ExtractPageRefs returns every referenced page number in order of
// appearance, duplicates included. Malformed markers are ignored.
func ExtractPageRefs(text string) []int {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]int, 0, len(matches))
	for _, m := range matches {
		page, err := strconv.Atoi(m[1])
		if err != nil || page <= 0 {
			continue
		}
		refs = append(refs, page)
	}
	return refs
}

// Split breaks text into a strictly alternating sequence of text and
// page_ref segments, beginning and ending with a text segment. Adjacent
// markers yield zero-length text segments between them; concatenating the
// text segments reconstructs the input with all markers removed.
func Split(text string) []Segment {
	locations := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locations) == 0 {
		return []Segment{{Kind: SegmentText, Text: text}}
	}

	segments := make([]Segment, 0, 2*len(locations)+1)
	cursor := 0
	for _, loc := range locations {
		start, end := loc[0], loc[1]
		page, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || page <= 0 {
			continue
		}
		segments = append(segments, Segment{Kind: SegmentText, Text: text[cursor:start]})
		segments = append(segments, Segment{Kind: SegmentPageRef, Page: page})
		cursor = end
	}
	segments = append(segments, Segment{Kind: SegmentText, Text: text[cursor:]})
	return segments
}
