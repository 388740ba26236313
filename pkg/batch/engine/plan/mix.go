package plan

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tigerroll/serendip/pkg/batch/core/registry"
)

// MixPadding is appended to mix prompts shorter than the minimum length.
const MixPadding = " Maintain clarity, avoid busy layouts, keep camera still, prioritize legible silhouettes, " +
	"focus on structured layering, and keep the context anchored in the domain."

const mixClosing = "Blend the two directives into a single coherent 2K image with controlled chaos, keeping silhouettes readable, " +
	"colors harmonized, and micro/macro motifs interlaced. Avoid UI chrome, stick to one scene, and keep depth and lighting consistent."

func combineMix(axisA, axisB string, d *registry.Domain, hints []string, partA, partB string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hybrid exploration combining axis %s and %s", axisA, axisB)
	if d != nil {
		fmt.Fprintf(&b, " inside bundle %s / %s. Context: %s", d.Bundle, d.DomainID, d.Context)
		if len(hints) == 2 {
			fmt.Fprintf(&b, " Hints emphasized: %s, %s", hints[0], hints[1])
		}
	}
	fmt.Fprintf(&b, ". Axis A directive: %s Axis B directive: %s %s", partA, partB, mixClosing)
	return b.String()
}

// ClampLength bounds text to [minLen, maxLen] runes. Short text receives
// MixPadding once; long text is cut at maxLen runes without regard to words.
// A non-positive maxLen disables truncation.
func ClampLength(text string, minLen, maxLen int) string {
	if utf8.RuneCountInString(text) < minLen {
		text += MixPadding
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		runes := []rune(text)
		text = string(runes[:maxLen])
	}
	return text
}
