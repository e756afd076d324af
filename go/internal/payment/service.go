package payment

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mcdev12/quizpot/go/internal/rpc"
)

const CheckoutServiceName = "quiz.v1.CheckoutService"

const CreateCheckoutProcedure = "/" + CheckoutServiceName + "/CreateCheckout"

// CheckoutCreator defines what the service layer needs from checkout.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, participantID int64) (*Checkout, error)
}

type CreateCheckoutRequest struct {
	ParticipantID int64 `json:"participant_id"`
}

type CreateCheckoutResponse struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	CheckoutURL       string `json:"checkout_url"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	DiscountPercent   string `json:"discount_percent"`
}

// CheckoutService exposes checkout over Connect.
type CheckoutService struct {
	app CheckoutCreator
}

func NewCheckoutService(app CheckoutCreator) *CheckoutService {
	return &CheckoutService{app: app}
}

func (s *CheckoutService) Handler() (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(CreateCheckoutProcedure, connect.NewUnaryHandler(CreateCheckoutProcedure, s.CreateCheckout, rpc.HandlerOptions()...))
	return "/" + CheckoutServiceName + "/", mux
}

func (s *CheckoutService) CreateCheckout(ctx context.Context, req *connect.Request[CreateCheckoutRequest]) (*connect.Response[CreateCheckoutResponse], error) {
	checkout, err := s.app.CreateCheckout(ctx, req.Msg.ParticipantID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&CreateCheckoutResponse{
		ProviderPaymentID: checkout.Payment.ProviderPaymentID,
		CheckoutURL:       checkout.CheckoutURL,
		Amount:            checkout.Payment.Amount.StringFixed(2),
		Currency:          checkout.Payment.Currency,
		DiscountPercent:   checkout.Payment.DiscountPercent.String(),
	}), nil
}
