package gmail

import (
	"context"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/gmailbridge/internal/google"
	"github.com/teemow/gmailbridge/internal/instrumentation"
	"github.com/teemow/gmailbridge/internal/store"
)

// SendResult identifies a dispatched message.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// Dispatcher sends mail and checks profiles through the Gmail API,
// authenticated per call from a stored client credential.
type Dispatcher struct {
	flow *google.Flow
}

// NewDispatcher creates a Dispatcher that derives token sources from the
// given flow.
func NewDispatcher(flow *google.Flow) *Dispatcher {
	return &Dispatcher{flow: flow}
}

// service builds a Gmail service authenticated as the credential's owner.
// The underlying token source refreshes expired access tokens through the
// stored refresh token.
func (d *Dispatcher) service(ctx context.Context, cred store.ClientCredential) (*gmail.Service, error) {
	ts := d.flow.TokenSource(ctx, cred)
	return gmail.NewService(ctx, option.WithTokenSource(ts))
}

// Send dispatches the message through the credential owner's Gmail
// account. Failures are returned as *DispatchError.
func (d *Dispatcher) Send(ctx context.Context, cred store.ClientCredential, msg Message) (SendResult, error) {
	if !cred.Connected() {
		return SendResult{}, &DispatchError{
			Kind:    KindNoCredential,
			Message: "No Gmail client available. Please connect Gmail first.",
		}
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "gmail", "messages.send")
	defer span.End()

	svc, err := d.service(ctx, cred)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return SendResult{}, classifyError(err)
	}

	res, err := svc.Users.Messages.Send("me", &gmail.Message{
		Raw: msg.Encode(),
	}).Context(ctx).Do()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return SendResult{}, classifyError(err)
	}

	instrumentation.SetSpanSuccess(span)
	return SendResult{
		MessageID: res.Id,
		ThreadID:  res.ThreadId,
	}, nil
}

// Profile fetches the credential owner's Gmail address. It doubles as the
// lightweight check that the stored token is still accepted by Google.
func (d *Dispatcher) Profile(ctx context.Context, cred store.ClientCredential) (string, error) {
	if !cred.Connected() {
		return "", &DispatchError{
			Kind:    KindNoCredential,
			Message: "No Gmail client available",
		}
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "gmail", "getprofile")
	defer span.End()

	svc, err := d.service(ctx, cred)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return "", classifyError(err)
	}

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return "", classifyError(err)
	}

	instrumentation.SetSpanSuccess(span)
	return profile.EmailAddress, nil
}
