package notification

import (
	"bytes"
	"fmt"
	"html/template"

	"orderflow/internal/events"
)

type message struct {
	Subject  string
	Headline string
	Intro    string
	Closing  []string
}

var messages = map[events.Type]message{
	events.OrderPlaced: {
		Subject:  "Order Placed Successfully",
		Headline: "Order Placed Successfully",
		Intro:    "Your order has been placed successfully!",
		Closing:  []string{"We will process your order and keep you updated.", "Thank you for your purchase!"},
	},
	events.OrderFailed: {
		Subject:  "Order Failed",
		Headline: "Order Failed",
		Intro:    "We regret to inform you that your order could not be processed.",
		Closing:  []string{"Please contact our support team if you have any questions.", "We apologize for any inconvenience."},
	},
	events.OrderCompleted: {
		Subject:  "Order Completed",
		Headline: "Order Completed",
		Intro:    "Great news! Your order has been completed.",
		Closing:  []string{"Thank you for shopping with us!"},
	},
}

var fallbackMessage = message{
	Subject:  "Order Update",
	Headline: "Order Update",
	Intro:    "Your order status has been updated.",
}

var bodyTemplate = template.Must(template.New("order").Parse(`<html>
<body>
    <h2>{{.Headline}}</h2>
    <p>Dear Customer,</p>
    <p>{{.Intro}}</p>
    <p><strong>Order ID:</strong> {{.OrderID}}</p>
    <p><strong>Total Amount:</strong> ${{.TotalAmount}}</p>
    <p><strong>Status:</strong> {{.Status}}</p>
{{- range .Closing}}
    <p>{{.}}</p>
{{- end}}
</body>
</html>
`))

// Render builds the subject and HTML body of the email for an event.
func Render(t events.Type, data events.OrderData) (subject, body string, err error) {
	msg, ok := messages[t]
	if !ok {
		msg = fallbackMessage
	}

	var buf bytes.Buffer
	err = bodyTemplate.Execute(&buf, struct {
		Headline    string
		Intro       string
		Closing     []string
		OrderID     string
		TotalAmount string
		Status      string
	}{
		Headline:    msg.Headline,
		Intro:       msg.Intro,
		Closing:     msg.Closing,
		OrderID:     data.OrderID.String(),
		TotalAmount: data.TotalAmount.StringFixed(2),
		Status:      data.Status,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render %s email: %w", t, err)
	}
	return msg.Subject, buf.String(), nil
}
