// Package notify sends the transactional emails fired by order state
// transitions. Delivery is best-effort by contract: callers log failures
// and never roll back a transition over a lost email.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/go-faster/errors"

	"github.com/xenking/gallery-orders/internal/domain/item"
	"github.com/xenking/gallery-orders/internal/domain/order"
)

// Config carries SMTP settings and the storefront identity used in
// message bodies. Injected explicitly, never read from ambient state.
type Config struct {
	Addr         string // host:port of the SMTP server
	Username     string
	Password     string
	Sender       string // From address
	AdminEmail   string
	AdminName    string
	FrontendRoot string // absolute URL of the storefront, for order links
}

var _ order.Notifier = (*Mailer)(nil)

// Mailer implements order.Notifier over SMTP.
type Mailer struct {
	cfg  Config
	body *template.Template
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer creates a Mailer from the given configuration.
func NewMailer(cfg Config) *Mailer {
	return &Mailer{
		cfg:  cfg,
		body: template.Must(template.New("order").Parse(orderBodyTemplate)),
		send: smtp.SendMail,
	}
}

// orderBodyTemplate is the shared plain-text body. Headline varies per
// transition; the item table and order link are common to all of them.
const orderBodyTemplate = `Dear {{.Name}},

{{.Headline}}

{{range .Items}}  {{.Name}} — £{{.Price}}
{{end}}  Total: £{{.Total}}

{{if .OrderURL}}View the order: {{.OrderURL}}
{{end}}`

type bodyContext struct {
	Name     string
	Headline string
	Items    []bodyItem
	Total    string
	OrderURL string
}

type bodyItem struct {
	Name  string
	Price string
}

// OrderPlaced sends the customer receipt and the admin notification.
func (m *Mailer) OrderPlaced(ctx context.Context, o *order.Order, items []item.Item) error {
	err := m.sendTo(o.EmailWithName(), "Your order has been placed",
		m.context(o, items, "Thank you for your order. Your payment has been authorized."))
	return firstErr(err, m.notifyAdmin(o, items,
		fmt.Sprintf("New order from %s", o.CustomerName),
		"A new order has been placed."))
}

// OrderEdited sends the edit receipt and the admin edit notification.
func (m *Mailer) OrderEdited(ctx context.Context, o *order.Order, items []item.Item) error {
	err := m.sendTo(o.EmailWithName(), "Your order has been edited",
		m.context(o, items, "Your order has been updated; the new contents are below."))
	return firstErr(err, m.notifyAdmin(o, items,
		fmt.Sprintf("%s's order has been edited", o.CustomerName),
		"An order has been edited."))
}

// OrderCancelled sends the cancellation (or refund) notice and the admin
// cancellation notification. refunded marks a cancellation after dispatch.
func (m *Mailer) OrderCancelled(ctx context.Context, o *order.Order, items []item.Item, refunded bool) error {
	subject, headline := "Your order has been cancelled",
		"Your order has been cancelled and your items returned to the gallery."
	if refunded {
		subject, headline = "Your purchase has been refunded",
			"Your purchase has been refunded in full."
	}
	err := m.sendTo(o.EmailWithName(), subject, m.context(o, items, headline))
	return firstErr(err, m.notifyAdmin(o, items,
		fmt.Sprintf("%s's order has been cancelled", o.CustomerName),
		"An order has been cancelled."))
}

// firstErr returns the first non-nil error. Both sends are always
// attempted; a failed customer email must not suppress the admin copy.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// OrderDispatched sends the dispatch notice to the customer.
func (m *Mailer) OrderDispatched(ctx context.Context, o *order.Order, items []item.Item) error {
	return m.sendTo(o.EmailWithName(), "Your order has been dispatched",
		m.context(o, items, "Your order is on its way to "+o.RecipientName+"."))
}

func (m *Mailer) notifyAdmin(o *order.Order, items []item.Item, subject, headline string) error {
	if m.cfg.AdminEmail == "" {
		return nil
	}
	c := m.context(o, items, headline)
	c.Name = m.cfg.AdminName
	return m.sendTo(m.cfg.AdminEmail, subject, c)
}

func (m *Mailer) context(o *order.Order, items []item.Item, headline string) bodyContext {
	c := bodyContext{
		Name:     o.CustomerName,
		Headline: headline,
		Total:    o.TotalBalance.StringFixed(2),
	}
	if m.cfg.FrontendRoot != "" {
		c.OrderURL = fmt.Sprintf("%s/order/%d", m.cfg.FrontendRoot, o.ID)
	}
	for _, it := range items {
		price := ""
		if it.Price != nil {
			price = it.Price.StringFixed(2)
		}
		c.Items = append(c.Items, bodyItem{Name: it.Name, Price: price})
	}
	return c
}

func (m *Mailer) sendTo(to, subject string, c bodyContext) error {
	var body strings.Builder
	if err := m.body.Execute(&body, c); err != nil {
		return errors.Wrap(err, "render email body")
	}

	msg := strings.Join([]string{
		"From: " + m.cfg.Sender,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body.String(),
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	if err := m.send(m.cfg.Addr, auth, m.cfg.Sender, []string{to}, []byte(msg)); err != nil {
		return errors.Wrapf(err, "send %q to %s", subject, to)
	}
	return nil
}
