package pipeline

import (
	"strings"

	"github.com/dvloznov/settlement-ledger/internal/domain"
)

// maxPromptBody bounds the email text sent to the model.
const maxPromptBody = 8000

// buildClassificationPrompt constructs the instructions and the message text
// for fallback classification.
func buildClassificationPrompt(subject, body string) string {
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}

	var b strings.Builder
	b.WriteString("You classify payment notification emails from an Indian lender's virtual account.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Decide which kind of notice the email is.\n")
	b.WriteString("- Extract the amounts in INR and the transaction reference.\n")
	b.WriteString("- Output STRICT JSON only: a single object, no comments, no extra text.\n\n")

	b.WriteString("Allowed kinds:\n")
	b.WriteString("  - " + string(domain.KindVirtualCredit) + ": money received into the virtual account\n")
	b.WriteString("  - " + string(domain.KindReleaseToBank) + ": money released from the virtual account to a bank account\n")
	b.WriteString("  - " + string(domain.KindEMIDeduction) + ": an EMI or fee deducted\n")
	b.WriteString("  - " + string(domain.KindUnknown) + ": anything else\n\n")

	b.WriteString("The object must have these fields:\n")
	b.WriteString("- \"kind\": string, one of the allowed kinds\n")
	b.WriteString("- \"virtual_amount\": number or null\n")
	b.WriteString("- \"bank_credit\": number or null\n")
	b.WriteString("- \"indifi_deduction\": number or null\n")
	b.WriteString("- \"transaction_ref\": string or null\n")
	b.WriteString("- \"virtual_code\": string or null\n")
	b.WriteString("- \"bank_account\": string or null\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("1. Amounts are plain numbers without currency symbols or grouping commas.\n")
	b.WriteString("2. Use null for anything the email does not state. Never guess.\n")
	b.WriteString("3. A deduction mentioned inside a credit or release notice goes in \"indifi_deduction\".\n")
	b.WriteString("4. Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n\n")

	b.WriteString("Subject: " + subject + "\n\n")
	b.WriteString("Body:\n" + body + "\n")
	return b.String()
}
