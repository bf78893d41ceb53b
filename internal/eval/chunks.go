package eval

import "strings"

// Chunk is a labelled span [Start, End) over a tag sequence.
type Chunk struct {
	Start, End int
	Type       string
}

// Chunks extracts labelled spans from BIO, IOB1 or BIOES tags. An I- tag
// that does not continue a chunk of the same type starts a new one.
func Chunks(tags []string) []Chunk {
	var out []Chunk
	prevTag, prevType := "O", ""
	start := -1
	for i, t := range tags {
		tag, typ := split(t)
		if start >= 0 && chunkEnds(prevTag, tag, prevType, typ) {
			out = append(out, Chunk{Start: start, End: i, Type: prevType})
			start = -1
		}
		if chunkStarts(prevTag, tag, prevType, typ) {
			start = i
		}
		prevTag, prevType = tag, typ
	}
	if start >= 0 {
		out = append(out, Chunk{Start: start, End: len(tags), Type: prevType})
	}
	return out
}

func split(t string) (tag, typ string) {
	if t == "O" || t == "" {
		return "O", ""
	}
	if p, rest, ok := strings.Cut(t, "-"); ok && len(p) == 1 {
		return p, rest
	}
	return "I", t
}

func chunkEnds(prevTag, tag, prevType, typ string) bool {
	switch prevTag {
	case "E", "S":
		return true
	case "O":
		return false
	}
	if tag == "B" || tag == "S" || tag == "O" {
		return true
	}
	return prevType != typ
}

func chunkStarts(prevTag, tag, prevType, typ string) bool {
	switch tag {
	case "O":
		return false
	case "B", "S":
		return true
	}
	if prevTag == "E" || prevTag == "S" || prevTag == "O" {
		return true
	}
	return prevType != typ
}
