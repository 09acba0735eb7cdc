package services

import (
	"fmt"
	"log"

	"gopkg.in/gomail.v2"

	"github.com/learnsphere/course-market-api/config"
	"github.com/learnsphere/course-market-api/model"
)

// MailerService sends payment decision emails. It runs after the review
// transaction commits; a delivery failure is logged and never rolls back
// a payment decision.
type MailerService struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailerService creates a mailer; returns nil when SMTP credentials
// are not configured so notifications can be disabled cleanly.
func NewMailerService(env *config.EnviornmentVariable) *MailerService {
	if env.SMTP_USER == "" || env.SMTP_PASS == "" {
		log.Println("Warning: SMTP credentials not configured. Payment emails will be disabled.")
		return nil
	}

	from := env.EMAIL_FROM
	if from == "" {
		from = env.SMTP_USER
	}

	host := env.SMTP_HOST
	if host == "" {
		host = "smtp.gmail.com"
	}

	return &MailerService{
		dialer: gomail.NewDialer(host, env.SMTP_PORT, env.SMTP_USER, env.SMTP_PASS),
		from:   from,
	}
}

// SendPaymentApproved notifies the student that the manual payment was
// accepted and the enrollment is active.
func (m *MailerService) SendPaymentApproved(user *model.User, attempt *model.PaymentAttempt, courseTitle string) error {
	subject := "Your payment has been approved"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your payment of %.0f %s (tracking code <b>%s</b>) has been approved.</p>"+
			"<p>You are now enrolled in <b>%s</b>. Happy learning!</p>",
		user.Name, attempt.Amount, attempt.Currency, attempt.TrackingCode, courseTitle)
	return m.send(user.Email, subject, body)
}

// SendPaymentRejected notifies the student of a rejection with the
// reviewer's reason so they can retry with a corrected receipt.
func (m *MailerService) SendPaymentRejected(user *model.User, attempt *model.PaymentAttempt) error {
	subject := "Your payment could not be verified"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your payment with tracking code <b>%s</b> was rejected.</p>"+
			"<p>Reason: %s</p><p>You can create a new payment attempt and upload a corrected receipt.</p>",
		user.Name, attempt.TrackingCode, attempt.RejectionReason)
	return m.send(user.Email, subject, body)
}

func (m *MailerService) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		log.Printf("Failed to send email to %s: %v", to, err)
		return err
	}
	return nil
}
