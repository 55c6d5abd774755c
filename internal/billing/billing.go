package billing

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"neonetworker/internal/config"
	"neonetworker/internal/domain"
	"neonetworker/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const defaultCurrency = "usd"

// Service creates Stripe billing portal sessions and payment links.
type Service struct {
	api       *client.API
	currency  string
	returnURL string
	logger    *zerolog.Logger
}

// New returns nil when no secret key is configured.
func New(cfg config.StripeConfig, frontendURL string, logger *zerolog.Logger) *Service {
	if cfg.SecretKey == "" {
		return nil
	}
	return newWithBackends(cfg, frontendURL, logger, stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		LeveledLogger: &leveledLogger{logger: logger},
	}))
}

func newWithBackends(cfg config.StripeConfig, frontendURL string, logger *zerolog.Logger, backends *stripe.Backends) *Service {
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	return &Service{
		api:       client.New(cfg.SecretKey, backends),
		currency:  currency,
		returnURL: strings.TrimRight(frontendURL, "/"),
		logger:    logger,
	}
}

// PortalSession opens the billing portal for the customer with email,
// creating the customer on first use.
func (s *Service) PortalSession(email string) (string, error) {
	if s == nil {
		return "", domain.ErrDisabled
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", domain.Invalid("email", "email is required")
	}

	customerID, err := s.findOrCreateCustomer(email)
	if err != nil {
		return "", err
	}
	session, err := s.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.returnURL + "/settings"),
	})
	if err != nil {
		return "", s.fail("create portal session", err)
	}
	return session.URL, nil
}

// CheckoutSession creates a product, a monthly price and a payment link for
// plan at amount (major currency units) and returns the link URL.
func (s *Service) CheckoutSession(plan string, amount float64) (string, error) {
	if s == nil {
		return "", domain.ErrDisabled
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", domain.Invalid("plan", "plan is required")
	}
	cents := int64(math.Round(amount * 100))
	if cents <= 0 {
		return "", domain.Invalid("amount", "amount must be positive")
	}

	product, err := s.api.Products.New(&stripe.ProductParams{
		Name: stripe.String(fmt.Sprintf("Neo Networker %s", plan)),
		Params: stripe.Params{
			Metadata: map[string]string{"plan": strings.ToLower(plan)},
		},
	})
	if err != nil {
		return "", s.fail("create product", err)
	}
	price, err := s.api.Prices.New(&stripe.PriceParams{
		Product:    stripe.String(product.ID),
		Currency:   stripe.String(s.currency),
		UnitAmount: stripe.Int64(cents),
		Recurring:  &stripe.PriceRecurringParams{Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth))},
	})
	if err != nil {
		return "", s.fail("create price", err)
	}
	link, err := s.api.PaymentLinks.New(&stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{{
			Price:    stripe.String(price.ID),
			Quantity: stripe.Int64(1),
		}},
	})
	if err != nil {
		return "", s.fail("create payment link", err)
	}
	s.logger.Info().Str("plan", plan).Int64("amount", cents).Str("payment_link", link.ID).Msg("checkout link created")
	return link.URL, nil
}

func (s *Service) findOrCreateCustomer(email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)
	iter := s.api.Customers.List(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", s.fail("find customer", err)
	}

	customer, err := s.api.Customers.New(&stripe.CustomerParams{Email: stripe.String(email)})
	if err != nil {
		return "", s.fail("create customer", err)
	}
	return customer.ID, nil
}

func (s *Service) fail(op string, err error) error {
	metrics.IncIntegrationFailure("stripe")
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusBadRequest {
		return domain.Invalid("billing", "%s", serr.Msg)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
