package pipeline

import (
	"fmt"
	"strings"
)

const analyzePromptTemplate = `You are analyzing retrieved email excerpts to answer a question.
Only use information present in the excerpts. Never invent facts.

Question: %s

Email excerpts:
%s

Respond with a single JSON object, no other text:
{
  "answer_possible": <true if the excerpts contain enough information to answer>,
  "confidence": "<high, medium, or low>",
  "findings": [{"claim": "<statement supported by an excerpt>", "citation": {"document_id": "<the email ID it came from>"}}],
  "decisions": ["<decisions recorded in the excerpts>"],
  "action_items": ["<action items recorded in the excerpts>"],
  "timeline": ["<dated events, oldest first>"],
  "risks": ["<risks or concerns raised in the excerpts>"],
  "missing_information": ["<what the excerpts do not cover>"]
}
Every finding must cite one of the email IDs shown in brackets.`

func analyzePrompt(query, contextText string) string {
	return fmt.Sprintf(analyzePromptTemplate, query, contextText)
}

const composePromptTemplate = `Write a concise answer to the question below using only the verified findings.
Do not add information beyond the findings. Mention sources naturally, not as footnotes.

Question: %s

Verified findings:
%s
%s
Answer:`

func composePrompt(query string, analysis *Analysis) string {
	var findings strings.Builder
	for _, f := range analysis.Findings {
		fmt.Fprintf(&findings, "- %s (from %s)\n", f.Claim, f.Citation.DocumentID)
	}

	var extra strings.Builder
	writeSection(&extra, "Decisions", analysis.Decisions)
	writeSection(&extra, "Action items", analysis.ActionItems)
	writeSection(&extra, "Timeline", analysis.Timeline)
	writeSection(&extra, "Risks", analysis.Risks)

	return fmt.Sprintf(composePromptTemplate, query, findings.String(), extra.String())
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
