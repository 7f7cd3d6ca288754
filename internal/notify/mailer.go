// Package notify renders and delivers the budget-alert and monthly-report
// emails. Delivery is at-least-once from the caller's perspective: Send
// either succeeds or returns an error the caller may retry.
package notify

import "context"

// Mailer delivers one HTML email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
