package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailTransport sends operator notifications over SMTP. Delivery is
// handed off to the local relay; this is the
// thin adapter the dispatch table invokes.
type EmailTransport struct {
	Addr string
	From string
	To   []string
	Auth smtp.Auth

	// sendMail is overridable in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailTransport builds an EmailTransport targeting the given SMTP
// server and recipient list.
func NewEmailTransport(addr, from string, to []string, auth smtp.Auth) *EmailTransport {
	return &EmailTransport{
		Addr:     addr,
		From:     from,
		To:       to,
		Auth:     auth,
		sendMail: smtp.SendMail,
	}
}

func (t *EmailTransport) Send(ctx context.Context, event Event) error {
	if t == nil || len(t.To) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[tds] %s %s: %s", event.Action.Command, event.Action.Subcommand, event.Package)
	body := fmt.Sprintf(
		"actor: %s\nproject: %s\npackage: %s\nenv: %s\napptypes: %s\nhosts: %s\n",
		event.Actor, event.Project, event.Package, event.Target.Env,
		strings.Join(event.Target.AppTypes, ","), strings.Join(event.Target.Hosts, ","),
	)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", t.From, strings.Join(t.To, ","), subject, body)

	send := t.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	return send(t.Addr, t.Auth, t.From, t.To, []byte(msg))
}
