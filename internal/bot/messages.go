package bot

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lojf/paygate/internal/models"
	"github.com/lojf/paygate/internal/services"
)

const helpText = `<b>Commands</b>
/pay - choose a payment method
/status - check your payment and access
/proof REF TX - report a manual payment with its transaction id
/help - this message`

const adminHelpText = `

<b>Admin</b>
/pending - payments waiting for action
/approve REF - approve a payment
/reject REF [reason] - reject a payment
/stats - users and revenue`

func welcomeText(firstName string) string {
	name := html.EscapeString(firstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 Hi %s!\n\nThis group is private. Pay once to get your invite link.\n\nChoose a payment method:", name)
}

func methodsKeyboard(methods []services.Method) InlineKeyboard {
	rows := make([][]InlineButton, 0, len(methods))
	for _, m := range methods {
		rows = append(rows, []InlineButton{{
			Text:         fmt.Sprintf("%s (%s)", m.Name, m.Price()),
			CallbackData: "method:" + m.Key,
		}})
	}
	return InlineKeyboard{Rows: rows}
}

func statusKeyboard() InlineKeyboard {
	return InlineKeyboard{Rows: [][]InlineButton{{{Text: "🔄 Check status", CallbackData: "status"}}}}
}

func reviewKeyboard(ref string) InlineKeyboard {
	return InlineKeyboard{Rows: [][]InlineButton{{
		{Text: "✅ Approve", CallbackData: "approve:" + ref},
		{Text: "❌ Reject", CallbackData: "reject:" + ref},
	}}}
}

// instructionsText tells the payer what to do next for a started payment.
func instructionsText(in *services.Instructions) string {
	p := in.Payment
	var b strings.Builder
	fmt.Fprintf(&b, "💳 <b>%s</b>\nAmount: <b>%s</b>\nReference: <code>%s</code>\n\n",
		html.EscapeString(in.Method.Name), services.FormatAmount(p.Amount, p.Currency), p.PaymentRef)

	switch s := in.Method.Settlement.(type) {
	case services.Automated:
		fmt.Fprintf(&b, "Tap the button below to pay. The link is valid until %s UTC.\nYou'll get your invite as soon as the payment clears.",
			in.ExpiresAt.UTC().Format("15:04"))
	case services.Manual:
		d := s.Destination
		switch d.Kind {
		case services.DestWallet:
			fmt.Fprintf(&b, "Send exactly <b>%s</b> worth of %s to:\n<code>%s</code>\n",
				services.FormatAmount(p.Amount, p.Currency), html.EscapeString(d.Network), html.EscapeString(d.Address))
		case services.DestUPI:
			fmt.Fprintf(&b, "Pay via UPI to <code>%s</code> (%s).\n", html.EscapeString(d.Address), html.EscapeString(d.Payee))
		case services.DestBank:
			fmt.Fprintf(&b, "Bank: %s\nAccount name: %s\nAccount number: <code>%s</code>\n",
				html.EscapeString(d.BankName), html.EscapeString(d.AccountName), html.EscapeString(d.AccountNumber))
			if d.IFSC != "" {
				fmt.Fprintf(&b, "IFSC: <code>%s</code>\n", html.EscapeString(d.IFSC))
			}
		}
		b.WriteString("Include the reference in the payment note.\n\n")
		if s.ProofRequired {
			fmt.Fprintf(&b, "When done, send:\n<code>/proof %s YOUR_TRANSACTION_ID</code>", p.PaymentRef)
		} else {
			fmt.Fprintf(&b, "When done, send:\n<code>/proof %s</code>", p.PaymentRef)
		}
	}
	return b.String()
}

func statusLine(p models.Payment) string {
	icon := map[models.PaymentStatus]string{
		models.StatusPending:   "⏳",
		models.StatusSubmitted: "🔎",
		models.StatusCompleted: "✅",
		models.StatusRejected:  "❌",
	}[p.Status]
	line := fmt.Sprintf("%s <code>%s</code> %s %s", icon, p.PaymentRef,
		services.FormatAmount(p.Amount, p.Currency), p.Status)
	if p.ReviewReason != nil && !p.Status.Terminal() {
		line += " (under review)"
	}
	return line
}

func pendingText(list []models.Payment) string {
	if len(list) == 0 {
		return "No pending payments."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Pending payments (%d)</b>\n", len(list))
	for _, p := range list {
		fmt.Fprintf(&b, "\n%s\nuser %d · %s · %s", statusLine(p), p.UserID, p.Method, p.CreatedAt.UTC().Format(time.RFC822))
		if p.TransactionHash != nil {
			fmt.Fprintf(&b, "\nproof: <code>%s</code>", html.EscapeString(*p.TransactionHash))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func statsText(s *services.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Stats</b>\nUsers: %d\nPaid: %d\nInvited: %d\nPending payments: %d\n",
		s.TotalUsers, s.PaidUsers, s.InvitedUsers, s.PendingPayments)
	if len(s.Revenue) == 0 {
		b.WriteString("Revenue: none yet")
		return b.String()
	}
	b.WriteString("Revenue:")
	for _, cur := range sortedKeys(s.Revenue) {
		fmt.Fprintf(&b, "\n  %s", services.FormatAmount(s.Revenue[cur], cur))
	}
	return b.String()
}

func proofReceivedText(p *models.Payment) string {
	return fmt.Sprintf("🔎 Thanks! Payment <code>%s</code> is now waiting for admin review.", p.PaymentRef)
}

func adminProofText(p *models.Payment) string {
	proof := "(none)"
	if p.TransactionHash != nil {
		proof = html.EscapeString(*p.TransactionHash)
	}
	return fmt.Sprintf("🔔 <b>Payment proof submitted</b>\nRef: <code>%s</code>\nUser: %d\nMethod: %s\nAmount: %s\nProof: <code>%s</code>",
		p.PaymentRef, p.UserID, p.Method, services.FormatAmount(p.Amount, p.Currency), proof)
}

func adminFlaggedText(p *models.Payment) string {
	reason := ""
	if p.ReviewReason != nil {
		reason = html.EscapeString(*p.ReviewReason)
	}
	return fmt.Sprintf("⚠️ <b>Payment needs review</b>\nRef: <code>%s</code>\nUser: %d\n%s",
		p.PaymentRef, p.UserID, reason)
}

func inviteText(link string) string {
	return fmt.Sprintf("🎉 Payment confirmed!\n\nHere is your invite link:\n%s\n\nWelcome aboard.", link)
}

func rejectedText(p *models.Payment) string {
	msg := fmt.Sprintf("❌ Payment <code>%s</code> was not accepted.", p.PaymentRef)
	if p.RejectReason != nil {
		msg += "\nReason: " + html.EscapeString(*p.RejectReason)
	}
	return msg + "\n\nUse /pay to try again."
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
