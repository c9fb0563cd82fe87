package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

const verdictPrompt = `You are a wallet security reviewer. A web page asked the user's wallet to perform the request below.
Assess whether approving it could lose the user funds or grant a third party control over assets.

Respond with JSON only:
{"risk_level": "low|medium|high|critical", "fraud_score": 0-100, "description": "one paragraph", "warnings": ["..."], "contract": {"address": "", "name": "", "function": "", "verified": false}, "confidence": 0.0-1.0}

Rules:
- Unlimited token approvals, setApprovalForAll and permit signatures are high risk unless the spender is well known.
- eth_sign over an opaque hash is critical: the user cannot know what they sign.
- Adding an unknown chain is medium risk.
- Use "contract" only when the target is a contract you can identify.`

const narrativePrompt = `You are a wallet security reviewer. A web page asked the user's wallet to perform the request below.
Explain in plain language, in under 150 words, what approving it would do and any red flags. No JSON, no markdown headings.`

// render formats req as the user message for a language model.
func render(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Origin: %s\nMethod: %s\n", req.Origin, req.Method)
	if req.Tx != nil {
		data, _ := json.MarshalIndent(req.Tx, "", "  ")
		fmt.Fprintf(&b, "Transaction:\n%s\n", data)
	}
	if req.Message != "" {
		fmt.Fprintf(&b, "Payload:\n%s\n", truncate(req.Message, 4000))
	}
	return b.String()
}
