package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
)

// keyPrefixes lists the secret and restricted key prefixes each environment accepts.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

// Client holds the process-wide Stripe settings. The SDK's package-level
// resource clients read the key installed by NewClient.
type Client struct {
	environment   string
	signingSecret string
	currency      string
}

// NewClient validates cfg, installs the API key and routes SDK logging
// through logg.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, fmt.Errorf("stripe environment must be test or live, got %q", env)
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if !hasAnyPrefix(apiKey, prefixes) {
		return nil, fmt.Errorf("stripe %s environment requires a %s key", env, strings.Join(prefixes, " or "))
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}

	stripe.Key = apiKey
	if logg != nil {
		stripe.DefaultLeveledLogger = &sdkLogger{logg: logg, ctx: logg.WithField(context.Background(), "component", "stripe-sdk")}
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}

	return &Client{
		environment:   env,
		signingSecret: secret,
		currency:      strings.ToLower(strings.TrimSpace(cfg.Currency)),
	}, nil
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// Currency is the default charge currency, lower-cased as Stripe expects.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// VerifyEvent checks the signature header against payload and decodes the event.
func VerifyEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// sdkLogger adapts the service logger to stripe.LeveledLoggerInterface.
// SDK debug and info chatter is dropped.
type sdkLogger struct {
	logg *logger.Logger
	ctx  context.Context
}

func (l *sdkLogger) Debugf(string, ...interface{}) {}

func (l *sdkLogger) Infof(string, ...interface{}) {}

func (l *sdkLogger) Warnf(format string, v ...interface{}) {
	l.logg.Warn(l.ctx, fmt.Sprintf(format, v...))
}

func (l *sdkLogger) Errorf(format string, v ...interface{}) {
	l.logg.Error(l.ctx, "stripe sdk error", fmt.Errorf(format, v...))
}
