package threatagent

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"time"

	"github.com/emersion/go-message/mail"
)

// BuildEmailArtifact renders the scenario's lure as a real RFC 5322
// message so the front end can display a realistic email, headers and
// all. Sender is a display-name address string like
// "Accounts Payable <billing@example.com>".
func BuildEmailArtifact(sender, recipient, subject, body string) ([]byte, error) {
	from, err := netmail.ParseAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", sender, err)
	}
	to, err := netmail.ParseAddress(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", recipient, err)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}

	return buf.Bytes(), nil
}
