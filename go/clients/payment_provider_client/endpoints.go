package payment_provider_client

const (
	PaymentsEndpoint = "/payments"

	AuthorizationHeader = "Authorization"
)
