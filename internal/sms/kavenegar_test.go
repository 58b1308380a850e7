package sms

import (
	"context"
	"errors"
	"testing"
	"time"

	"auction-settlement/config"
	"auction-settlement/internal/models"

	"github.com/kavenegar/kavenegar-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKavenegarProvider_SendMapsTokens(t *testing.T) {
	var gotToken string
	var gotParams *kavenegar.VerifyLookupParam
	p := &KavenegarProvider{
		lookup: func(receptor, template, token string, params *kavenegar.VerifyLookupParam) (kavenegar.Message, error) {
			assert.Equal(t, "09120000000", receptor)
			assert.Equal(t, "auctionWon", template)
			gotToken = token
			gotParams = params
			return kavenegar.Message{MessageID: 8812}, nil
		},
	}

	id, err := p.Send(context.Background(), models.SMSPayload{
		Phone:    "09120000000",
		Template: "auctionWon",
		Tokens:   []string{"42", "500", "2026-10-17T12:00"},
	})

	require.NoError(t, err)
	assert.Equal(t, "8812", id)
	assert.Equal(t, "42", gotToken)
	assert.Equal(t, "500", gotParams.Token2)
	assert.Equal(t, "2026-10-17T12:00", gotParams.Token3)
}

func TestKavenegarProvider_RejectsTooManyTokens(t *testing.T) {
	p := &KavenegarProvider{
		lookup: func(string, string, string, *kavenegar.VerifyLookupParam) (kavenegar.Message, error) {
			t.Fatal("lookup must not be called")
			return kavenegar.Message{}, nil
		},
	}

	_, err := p.Send(context.Background(), models.SMSPayload{
		Phone:    "09120000000",
		Template: "auctionWon",
		Tokens:   []string{"a", "b", "c", "d"},
	})
	assert.Error(t, err)
}

func TestKavenegarProvider_WrapsLookupError(t *testing.T) {
	lookupErr := errors.New("connection refused")
	p := &KavenegarProvider{
		lookup: func(string, string, string, *kavenegar.VerifyLookupParam) (kavenegar.Message, error) {
			return kavenegar.Message{}, lookupErr
		},
	}

	_, err := p.Send(context.Background(), models.SMSPayload{Phone: "0912", Template: "t", Tokens: []string{"x"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, lookupErr)
}

func TestKavenegarProvider_HonorsContextTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := &KavenegarProvider{
		lookup: func(string, string, string, *kavenegar.VerifyLookupParam) (kavenegar.Message, error) {
			<-release
			return kavenegar.Message{}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Send(ctx, models.SMSPayload{Phone: "0912", Template: "t", Tokens: []string{"x"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "delivery unknown")
}

func TestNewProvider_FallsBackToNoop(t *testing.T) {
	for _, cfg := range []config.SMSConfig{
		{},
		{Provider: "kavenegar"},
		{Provider: "twilio", APIKey: "key"},
	} {
		p := NewProvider(cfg)
		_, err := p.Send(context.Background(), models.SMSPayload{Phone: "0912", Template: "t", Tokens: []string{"x"}})
		assert.ErrorIs(t, err, ErrNotConfigured)
	}

	_, ok := NewProvider(config.SMSConfig{Provider: "kavenegar", APIKey: "key"}).(*KavenegarProvider)
	assert.True(t, ok)
}
