package service

import (
	"fmt"

	"auction-settlement/internal/models"
)

// Template keys used by settlement and account events
const (
	TemplateAccountCreated       = "account-created"
	TemplateAuctionWon           = "auction-won"
	TemplateAuctionEnded         = "auction-ended"
	TemplateAuctionSold          = "auction-sold"
	TemplateAuctionUnsold        = "auction-unsold"
	TemplatePaymentReceived      = "payment-received"
	TemplatePaymentWindowExpired = "payment-window-expired"
)

// TemplateSpec maps a template key to the provider-side template and the
// ordered parameters it takes. The provider accepts at most three tokens.
type TemplateSpec struct {
	ProviderTemplate string
	Params           []string
}

// TemplateRegistry holds the templates the dispatcher is allowed to send
type TemplateRegistry map[string]TemplateSpec

// DefaultTemplates returns the templates registered with the SMS provider panel
func DefaultTemplates() TemplateRegistry {
	return TemplateRegistry{
		TemplateAccountCreated:       {ProviderTemplate: "accountCreated", Params: []string{"name"}},
		TemplateAuctionWon:           {ProviderTemplate: "auctionWon", Params: []string{"auction", "amount", "due"}},
		TemplateAuctionEnded:         {ProviderTemplate: "auctionEnded", Params: []string{"auction", "amount"}},
		TemplateAuctionSold:          {ProviderTemplate: "auctionSold", Params: []string{"auction", "amount"}},
		TemplateAuctionUnsold:        {ProviderTemplate: "auctionUnsold", Params: []string{"auction"}},
		TemplatePaymentReceived:      {ProviderTemplate: "paymentReceived", Params: []string{"auction", "amount"}},
		TemplatePaymentWindowExpired: {ProviderTemplate: "paymentWindowExpired", Params: []string{"auction"}},
	}
}

// Render builds the provider payload for a job
func (r TemplateRegistry) Render(job *models.NotificationJob) (models.SMSPayload, error) {
	spec, ok := r[job.TemplateKey]
	if !ok {
		return models.SMSPayload{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, job.TemplateKey)
	}

	tokens := make([]string, 0, len(spec.Params))
	for _, name := range spec.Params {
		value, ok := job.Params[name]
		if !ok || value == "" {
			return models.SMSPayload{}, fmt.Errorf("%w: %s requires %q", ErrMissingTemplateParam, job.TemplateKey, name)
		}
		tokens = append(tokens, value)
	}

	return models.SMSPayload{
		Phone:    job.Recipient,
		Template: spec.ProviderTemplate,
		Tokens:   tokens,
	}, nil
}
