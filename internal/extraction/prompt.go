package extraction

import (
	"fmt"
	"strings"
)

// systemPrompt is the base instruction block sent with every batch.
const systemPrompt = `You are an assistant that extracts actionable items from batches of emails.

For each item you find, report:
- "content": what was done or what needs doing (1-2 sentences)
- "type": "completed" if the emails show it was finished, otherwise "pending"
- "sourceIndices": 0-based indices of the emails the item came from
- "evidence": a short quote or paraphrase supporting the item
- "confidence": an integer 0-100

Respond ONLY with a JSON object of this exact shape, no additional text:
{"items": [{"content": "...", "type": "pending", "sourceIndices": [0], "evidence": "...", "confidence": 80}], "batchInfo": {"total": 0, "processed": 0, "skipped": 0}}`

// reinforcedPrompt is appended on validation retries: an explicit shape
// restatement plus the mistakes that most often break the schema.
const reinforcedPrompt = `

IMPORTANT - your previous response failed validation. Follow the schema exactly:
- The top level MUST be a JSON object with an "items" array and a "batchInfo" object.
- "type" MUST be exactly "completed" or "pending". Not "done", "finished", "todo" or anything else.
- "confidence" MUST be a bare integer between 0 and 100. Not a string, not a percentage sign.
- "sourceIndices" MUST be an array of integers. Use [] when no source applies.
- Do not wrap the JSON in markdown code fences.
- Do not add fields that are not in the schema.`

// buildPrompt serializes a batch into the user prompt. Item-to-source
// association is by the explicit index printed here, so backend-side
// re-ordering of the items array stays safe.
func buildPrompt(batch *EmailBatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report date: %s\nEmails in batch: %d\n\n", batch.ReportDate, len(batch.Emails))

	for i, e := range batch.Emails {
		fmt.Fprintf(&b, "--- Email %d ---\n", i)
		fmt.Fprintf(&b, "From: %s\nSubject: %s\nDate: %s\n", e.From, e.Subject, e.Date)
		if len(e.Attachments) > 0 {
			names := make([]string, 0, len(e.Attachments))
			for _, a := range e.Attachments {
				names = append(names, a.Filename)
			}
			fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
		}
		if e.Body != "" {
			fmt.Fprintf(&b, "Body:\n%s\n", e.Body)
		} else {
			b.WriteString("Body: (no usable content)\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// instructions returns the system block for a request, reinforced or not.
func instructions(req Request) string {
	if req.Reinforced {
		return systemPrompt + reinforcedPrompt
	}
	return systemPrompt
}
