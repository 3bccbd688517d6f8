package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/gomail.v2"
)

const dateLayout = "02 Jan 2006"

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailConfig holds the SMTP settings used by NewMailNotifier.
type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Brand    string
}

// MailNotifier sends plain-text notices over SMTP.
type MailNotifier struct {
	sender  Sender
	from    string
	brand   string
	printer *message.Printer
	logger  *zap.Logger
}

// NewMailNotifier creates a MailNotifier that dials cfg's SMTP server for every notice.
func NewMailNotifier(cfg MailConfig, logger *zap.Logger) *MailNotifier {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return newMailNotifier(d, from, cfg.Brand, logger)
}

func newMailNotifier(sender Sender, from, brand string, logger *zap.Logger) *MailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if brand == "" {
		brand = "emiLoan"
	}
	return &MailNotifier{
		sender:  sender,
		from:    from,
		brand:   brand,
		printer: message.NewPrinter(language.English),
		logger:  logger.Named("notify"),
	}
}

// formatAmount renders a decimal with digit grouping and two fraction digits.
func (n *MailNotifier) formatAmount(d decimal.Decimal) string {
	abs := d.Abs().Round(2)
	_, frac, _ := strings.Cut(abs.StringFixed(2), ".")
	out := n.printer.Sprintf("%d", abs.IntPart()) + "." + frac
	if d.Round(2).IsNegative() {
		out = "-" + out
	}
	return out
}

func (n *MailNotifier) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return n.sender.DialAndSend(m)
}

// InstallmentPaid implements Notifier.
func (n *MailNotifier) InstallmentPaid(_ context.Context, r Receipt) error {
	if r.Email == "" {
		n.logger.Debug("no email on file, skipping receipt", zap.Stringer("loan_id", r.LoanID))
		return nil
	}

	subject := fmt.Sprintf("%s: payment received for installment %d", n.brand, r.SequenceIndex+1)
	body := n.printer.Sprintf(
		"Dear customer,\n\nWe received your payment of %s on %s for installment %d of loan %s.\nTransaction reference: %s\nInstallments remaining: %d\n\nThank you,\n%s\n",
		n.formatAmount(r.Amount), r.PaidOn.Format(dateLayout), r.SequenceIndex+1, r.LoanID, r.Reference, r.Remaining, n.brand,
	)
	if err := n.send(r.Email, subject, body); err != nil {
		return fmt.Errorf("notify: send receipt for loan %s: %w", r.LoanID, err)
	}
	n.logger.Info("receipt sent", zap.Stringer("loan_id", r.LoanID), zap.Int("sequence_index", r.SequenceIndex))
	return nil
}

// LoanClosed implements Notifier.
func (n *MailNotifier) LoanClosed(_ context.Context, c Closure) error {
	if c.Email == "" {
		n.logger.Debug("no email on file, skipping closure notice", zap.Stringer("loan_id", c.LoanID))
		return nil
	}

	subject := fmt.Sprintf("%s: loan %s closed", n.brand, c.LoanID)
	body := n.printer.Sprintf(
		"Dear customer,\n\nYour loan %s was closed on %s.\nPrincipal: %s\nTotal repaid: %s\n\nThank you for banking with %s.\n",
		c.LoanID, c.ClosedOn.Format(dateLayout), n.formatAmount(c.Principal), n.formatAmount(c.TotalRepayable), n.brand,
	)
	if err := n.send(c.Email, subject, body); err != nil {
		return fmt.Errorf("notify: send closure notice for loan %s: %w", c.LoanID, err)
	}
	n.logger.Info("closure notice sent", zap.Stringer("loan_id", c.LoanID))
	return nil
}
