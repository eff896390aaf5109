// Package mail delivers a composed newsletter to one recipient over one
// authenticated mail submission session.
package mail

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/models"
)

// Credentials authenticate the sender. From defaults to Username.
type Credentials struct {
	Username string
	Password string
	From     string
}

// Transport opens submission sessions.
type Transport interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one open connection to the submission server. Implementations
// classify failures as *failure.AuthError or *failure.NetworkError.
type Session interface {
	Auth(username, password string) error
	Send(from, to string, msg []byte) error
	Close() error
}

// Dispatcher sends exactly one document per Deliver call.
type Dispatcher struct {
	transport Transport
	now       func() time.Time
	logger    *log.Logger
}

func NewDispatcher(transport Transport, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{transport: transport, now: time.Now, logger: logger}
}

// ValidateRecipient accepts addresses with exactly one "@", a non-empty
// local part and a "." somewhere in the domain.
func ValidateRecipient(recipient string) error {
	if strings.Count(recipient, "@") != 1 {
		return failure.NewValidationError("recipient", "must contain exactly one @")
	}
	local, domain, _ := strings.Cut(recipient, "@")
	if local == "" {
		return failure.NewValidationError("recipient", "local part is empty")
	}
	if !strings.Contains(domain, ".") {
		return failure.NewValidationError("recipient", "domain must contain a dot")
	}
	if strings.IndexFunc(recipient, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return failure.NewValidationError("recipient", "must not contain whitespace")
	}
	return nil
}

// Deliver validates the recipient, then opens a session, authenticates and
// sends doc. The session is closed before Deliver returns on every path. On
// failure the receipt has status failed and the error is the typed cause.
func (d *Dispatcher) Deliver(ctx context.Context, doc models.NewsletterDocument, recipient string, creds Credentials) (receipt models.DeliveryReceipt, err error) {
	receipt = models.DeliveryReceipt{Recipient: recipient, Status: models.DeliveryFailed}
	defer func() {
		receipt.Timestamp = d.now().UTC()
		if err != nil {
			receipt.Cause = err.Error()
		}
	}()

	if err := ValidateRecipient(recipient); err != nil {
		return receipt, err
	}
	if ctx.Err() != nil {
		return receipt, failure.Cancelled("deliver", ctx)
	}

	from := creds.From
	if from == "" {
		from = creds.Username
	}
	msg, err := BuildMessage(from, recipient, doc, d.now())
	if err != nil {
		return receipt, err
	}

	sess, err := d.transport.Open(ctx)
	if err != nil {
		return receipt, asNetworkError(err)
	}
	var closeOnce sync.Once
	closeSession := func() {
		closeOnce.Do(func() {
			if cerr := sess.Close(); cerr != nil {
				d.logger.Printf("close session: %v", cerr)
			}
		})
	}
	defer closeSession()

	if err := sess.Auth(creds.Username, creds.Password); err != nil {
		if !errors.Is(err, failure.ErrAuth) && !errors.Is(err, failure.ErrNetwork) {
			err = &failure.AuthError{Cause: err}
		}
		d.logger.Printf("auth as %s failed: %v", creds.Username, err)
		return receipt, err
	}
	if err := sess.Send(from, recipient, msg); err != nil {
		d.logger.Printf("send to %s failed: %v", recipient, err)
		return receipt, asNetworkError(err)
	}
	closeSession()

	receipt.Status = models.DeliverySent
	d.logger.Printf("sent %q to %s", doc.Subject, recipient)
	return receipt, nil
}

func asNetworkError(err error) error {
	if errors.Is(err, failure.ErrNetwork) || errors.Is(err, failure.ErrAuth) {
		return err
	}
	return &failure.NetworkError{Cause: err}
}
