package analyzer

import (
	"fmt"
	"strings"

	"github.com/rcliao/clip-memory/internal/model"
)

const reportTemplate = `You are a content analyst preparing material for marketers and creators.
Write the entire answer in %[1]s, even when the source is in another language, including headings and labels.
The source is the transcript of a short-form video. Timed segments: %[2]s.

Produce exactly these sections, in order:

1. SUMMARY (5-6 sentences)
   - End with a "Names and organisations" bullet list of people, organisations and places mentioned.
   - Add a "Key points" block of 5 bullets covering the main content.

2. CHECKLIST (up to 6 steps, each starting with an emoji)
   - %[3]s

3. PROBLEM / SOLUTION / BENEFIT
   - 1-2 sentences for each.

4. SOCIAL CAPTION
   - Up to 3 sentences for short-video platforms, with emoji and a call to action.

5. INSIGHTS + HASHTAGS
   - 3 insights.
   - 8-10 hashtags, plus up to 10 topics or tags drawn from the content.

6. MINI-ARTICLE (about 150-200 words)
   - 2-3 subheadings with a logical structure.

7. JSON
   {
     "title": "...",
     "summary": "...",
     "key_points": ["...", "..."],
     "hashtags": ["...", "..."],
     "audience": "..."
   }

Rules:
- Paraphrase; do not copy the transcript verbatim.
- Be concise and concrete.
- Output only the sections, no reasoning.`

const (
	timedMoments   = "Add 5 key moments with timecodes in mm:ss format."
	untimedMoments = "Add 5 key moments or passages from the content, without timecodes."
)

const simpleInstructions = "You summarise content. Answer only in %s. Be brief and to the point."

const memoryInstructions = `You answer questions using the user's saved video analyses.
Answer in %s. Use only the numbered notes below; cite them as [n].
If the notes do not contain the answer, say so plainly.

Notes:
%s`

// ReportInstructions returns the system instructions for a full analysis.
func ReportInstructions(language string, timed bool) string {
	segs, moments := "no", untimedMoments
	if timed {
		segs, moments = "yes", timedMoments
	}
	return fmt.Sprintf(reportTemplate, language, segs, moments)
}

// ReportInput is the user content for a full analysis: the transcript and,
// when available, a timecoded listing of its segments.
func ReportInput(text string, segments []model.Segment) string {
	var b strings.Builder
	b.WriteString("Analyse this video content:\n\n")
	b.WriteString(text)
	if len(segments) > 0 {
		b.WriteString("\n\nTimed segments:\n")
		for _, s := range segments {
			fmt.Fprintf(&b, "[%s] %s\n", Timecode(s.Start), s.Text)
		}
	}
	return b.String()
}

// Timecode formats seconds as mm:ss. Minutes are not wrapped at an hour.
func Timecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
