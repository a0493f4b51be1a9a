package email

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

const layoutHTML = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.button { display: inline-block; padding: 12px 24px; background-color: #6c4cff; color: white; text-decoration: none; border-radius: 6px; margin: 20px 0; }
	</style>
</head>
<body>
	<div class="container">
		<h1>{{.Heading}}</h1>
		{{range .Paragraphs}}<p>{{.}}</p>
		{{end}}{{if .LinkURL}}<a href="{{.LinkURL}}" class="button">{{.LinkLabel}}</a>
		<p style="word-break: break-all; color: #666;">{{.LinkURL}}</p>{{end}}
		<hr>
		<p style="color: #999; font-size: 12px;">This is an automated message from Vidlayer.</p>
	</div>
</body>
</html>`

const layoutText = `{{.Heading}}
{{range .Paragraphs}}
{{.}}
{{end}}{{if .LinkURL}}
{{.LinkURL}}
{{end}}
This is an automated message from Vidlayer.
`

var (
	htmlLayout = htmltemplate.Must(htmltemplate.New("email").Parse(layoutHTML))
	textLayout = texttemplate.Must(texttemplate.New("email").Parse(layoutText))
)

type content struct {
	Heading    string
	Paragraphs []string
	LinkURL    string
	LinkLabel  string
}

func render(to, subject string, c content) (Message, error) {
	var html, text bytes.Buffer
	if err := htmlLayout.Execute(&html, c); err != nil {
		return Message{}, fmt.Errorf("failed to render email: %w", err)
	}
	if err := textLayout.Execute(&text, c); err != nil {
		return Message{}, fmt.Errorf("failed to render email: %w", err)
	}
	return Message{To: to, Subject: subject, HTML: html.String(), Text: text.String()}, nil
}

// FormatCents renders an amount like "$12.34 USD"
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}

// Notifier composes the platform's transactional emails
type Notifier struct {
	sender Sender
	webURL string
}

// NewNotifier creates a notifier. webURL is the base for links in emails.
func NewNotifier(sender Sender, webURL string) *Notifier {
	return &Notifier{sender: sender, webURL: strings.TrimRight(webURL, "/")}
}

// PayoutCompleted tells a creator their money is on the way
func (n *Notifier) PayoutCompleted(ctx context.Context, to string, amountCents int64, currency, method string) error {
	msg, err := render(to, "Your Vidlayer payout has been sent", content{
		Heading: "Payout sent",
		Paragraphs: []string{
			fmt.Sprintf("We sent %s to your %s account.", FormatCents(amountCents, currency), methodLabel(method)),
			"Depending on your provider it can take a few business days to arrive.",
		},
		LinkURL:   n.webURL + "/earnings/payouts",
		LinkLabel: "View payout history",
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

// PayoutFailed tells a creator a payout gave up and their earnings are
// available to request again
func (n *Notifier) PayoutFailed(ctx context.Context, to string, amountCents int64, currency, reason string) error {
	msg, err := render(to, "Your Vidlayer payout could not be completed", content{
		Heading: "Payout failed",
		Paragraphs: []string{
			fmt.Sprintf("We could not send your payout of %s.", FormatCents(amountCents, currency)),
			"Reason: " + reason,
			"Your earnings are still available. Check your payout account and request again.",
		},
		LinkURL:   n.webURL + "/earnings/payout-accounts",
		LinkLabel: "Review payout accounts",
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

// ShareLink sends a video share link on behalf of a creator
func (n *Notifier) ShareLink(ctx context.Context, to, fromName, videoTitle, shareURL string, hasPassword bool) error {
	paragraphs := []string{fmt.Sprintf("%s shared the video \"%s\" with you.", fromName, videoTitle)}
	if hasPassword {
		paragraphs = append(paragraphs, "This link is password protected. Ask the sender for the password.")
	}

	msg, err := render(to, fmt.Sprintf("%s shared a video with you", fromName), content{
		Heading:    videoTitle,
		Paragraphs: paragraphs,
		LinkURL:    shareURL,
		LinkLabel:  "Watch video",
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

func methodLabel(method string) string {
	switch method {
	case "stripe_connect":
		return "Stripe"
	case "paypal":
		return "PayPal"
	case "bank_transfer":
		return "bank"
	case "crypto":
		return "crypto wallet"
	}
	return method
}
