package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Notification the push payload shown by the client
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Sender delivers one payload to one subscription
type Sender interface {
	/*
		Send deliver a payload

			@param ctx context.Context - execution context
			@param sub Subscription - the target
			@param payload []byte - the payload
			@returns ErrSubscriptionGone if the push service no longer knows the endpoint
	*/
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

// WebPushParams VAPID web push sender parameters
type WebPushParams struct {
	// VAPIDPublicKey application server public key
	VAPIDPublicKey string `validate:"required"`
	// VAPIDPrivateKey application server private key
	VAPIDPrivateKey string `validate:"required"`
	// Subscriber contact address placed in the VAPID token, an e-mail or an https URL
	Subscriber string `validate:"required"`
	// TTL seconds the push service holds an undelivered message
	TTL int `validate:"gte=0"`
	// HTTPClient optional client
	HTTPClient *http.Client `validate:"-"`
}

// webPushSender implements Sender with VAPID web push
type webPushSender struct {
	params WebPushParams
}

/*
NewWebPushSender define a VAPID web push sender

	@param params WebPushParams - sender parameters
	@returns the sender
*/
func NewWebPushSender(params WebPushParams) (Sender, error) {
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("web push parameters not valid [%w]", err)
	}
	return &webPushSender{params: params}, nil
}

func (s *webPushSender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	options := &webpush.Options{
		Subscriber:      strings.TrimPrefix(s.params.Subscriber, "mailto:"),
		TTL:             s.params.TTL,
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  s.params.VAPIDPublicKey,
		VAPIDPrivateKey: s.params.VAPIDPrivateKey,
	}
	if s.params.HTTPClient != nil {
		options.HTTPClient = s.params.HTTPClient
	}

	resp, err := webpush.SendNotificationWithContext(
		ctx,
		payload,
		&webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{Auth: sub.Keys.Auth, P256dh: sub.Keys.P256dh},
		},
		options,
	)
	if err != nil {
		return fmt.Errorf("push delivery to '%s' failed [%w]", sub.Endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: '%s' returned %d", ErrSubscriptionGone, sub.Endpoint, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("push service '%s' returned %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}

/*
GenerateVAPIDKeys create a new VAPID key pair

	@returns private and public key, base64 URL encoded
*/
func GenerateVAPIDKeys() (privateKey string, publicKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate VAPID keys [%w]", err)
	}
	return privateKey, publicKey, nil
}
