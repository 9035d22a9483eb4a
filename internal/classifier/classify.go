// Package classifier decides whether downloaded PDF documents are Summary of
// Benefits and Coverage disclosures. Classification is a pure text check over
// the first pages of a document; extraction and scheduling live alongside it.
package classifier

import "strings"

// Federal template markers. Every compliant SBC carries the title marker; the
// uniform glossary carries the glossary marker and is not itself an SBC, even
// though its text also mentions the SBC title.
const (
	TitleMarker    = "Summary of Benefits and Coverage"
	GlossaryMarker = "Glossary of Health Coverage and Medical Terms"
)

// Verdict is the outcome of classifying one document's text.
type Verdict struct {
	IsSBC  bool
	Marker string
}

// Marker values describe which template marker decided the verdict.
const (
	MarkerGlossary = "glossary"
	MarkerTitle    = "title"
	MarkerNone     = ""
)

var (
	glossaryMarkerLower = strings.ToLower(GlossaryMarker)
	titleMarkerLower    = strings.ToLower(TitleMarker)
)

// Classify applies the marker rules to extracted text. Matching is
// case-insensitive: extracted PDF text often comes back upper-cased or with
// inconsistent casing. The glossary check runs first and excludes: glossary
// documents quote the SBC title, so title-first ordering would misfile every
// glossary as an SBC.
func Classify(text string) Verdict {
	lower := strings.ToLower(text)
	if strings.Contains(lower, glossaryMarkerLower) {
		return Verdict{IsSBC: false, Marker: MarkerGlossary}
	}
	if strings.Contains(lower, titleMarkerLower) {
		return Verdict{IsSBC: true, Marker: MarkerTitle}
	}
	return Verdict{IsSBC: false, Marker: MarkerNone}
}
