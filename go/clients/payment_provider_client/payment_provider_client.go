package payment_provider_client

import (
	"github.com/mcdev12/quizpot/go/clients"
)

type PaymentProviderClient struct {
	*clients.BaseClient
}

func NewPaymentProviderClient(baseURL, apiKey string) *PaymentProviderClient {
	client := &PaymentProviderClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetHeader(AuthorizationHeader, "Bearer "+apiKey)
	return client
}
