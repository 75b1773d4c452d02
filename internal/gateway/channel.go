package gateway

//go:generate mockgen -source=channel.go -destination=mocks/channel_mock.go -package=mocks Channel

import (
	"context"

	"github.com/rezonia/einvoicing/internal/model"
)

// Submission is what a channel transmits
type Submission struct {
	Invoice  *model.EInvoice
	Document *model.Document
	Hash     string
	TenantID string
}

// Ack is a channel's acknowledgement of a submission
type Ack struct {
	RegistrationCode string
	// Status is SENT, or ACCEPTED/REJECTED when the channel answers synchronously
	Status  model.Status
	Message string
}

// Channel delivers documents to a tax authority or recipient.
// Submit returns *model.TransportError for retryable failures and
// *model.BusinessRejection for terminal refusals.
type Channel interface {
	Name() string
	Submit(ctx context.Context, sub Submission) (Ack, error)
	Status(ctx context.Context, registrationCode string) (model.Status, error)
}
