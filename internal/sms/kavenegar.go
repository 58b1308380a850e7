package sms

import (
	"context"
	"errors"
	"fmt"

	"auction-settlement/internal/models"

	"github.com/kavenegar/kavenegar-go"
)

// maxLookupTokens is how many tokens a Kavenegar verify template accepts
const maxLookupTokens = 3

// lookupFunc matches kavenegar's VerifyService.Lookup
type lookupFunc func(receptor, template, token string, params *kavenegar.VerifyLookupParam) (kavenegar.Message, error)

// KavenegarProvider sends template messages through Kavenegar verify lookup
type KavenegarProvider struct {
	lookup lookupFunc
}

// NewKavenegarProvider creates a provider for the given API key. Verify
// lookups go out from the line bound to the template in the Kavenegar panel.
func NewKavenegarProvider(apiKey string) *KavenegarProvider {
	api := kavenegar.New(apiKey)
	return &KavenegarProvider{lookup: api.Verify.Lookup}
}

// Send delivers the payload and returns the provider message id. The client
// library is not context aware, so the call runs in a goroutine and Send
// returns as soon as ctx is done.
func (p *KavenegarProvider) Send(ctx context.Context, payload models.SMSPayload) (string, error) {
	if payload.Phone == "" {
		return "", errors.New("phone number is required")
	}
	if payload.Template == "" {
		return "", errors.New("template is required")
	}
	if len(payload.Tokens) == 0 || len(payload.Tokens) > maxLookupTokens {
		return "", fmt.Errorf("template %s takes 1 to %d tokens, got %d", payload.Template, maxLookupTokens, len(payload.Tokens))
	}

	params := &kavenegar.VerifyLookupParam{}
	if len(payload.Tokens) > 1 {
		params.Token2 = payload.Tokens[1]
	}
	if len(payload.Tokens) > 2 {
		params.Token3 = payload.Tokens[2]
	}

	type result struct {
		msg kavenegar.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := p.lookup(payload.Phone, payload.Template, payload.Tokens[0], params)
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		// the request may still be delivered after we stop waiting
		return "", fmt.Errorf("kavenegar lookup abandoned, delivery unknown: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			switch err := res.err.(type) {
			case *kavenegar.APIError:
				return "", fmt.Errorf("kavenegar API error: %w", err)
			case *kavenegar.HTTPError:
				return "", fmt.Errorf("kavenegar HTTP error: %w", err)
			default:
				return "", fmt.Errorf("kavenegar lookup failed: %w", err)
			}
		}
		return fmt.Sprintf("%d", res.msg.MessageID), nil
	}
}
