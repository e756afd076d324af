// Package rpc holds the Connect plumbing shared by the quiz services.
package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/apperr"
)

// JSONCodec replaces Connect's protobuf JSON codec so handlers can use plain
// Go structs as messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

// HandlerOptions are applied to every unary handler.
func HandlerOptions() []connect.HandlerOption {
	return []connect.HandlerOption{connect.WithCodec(JSONCodec{})}
}

// ClientOptions configures a Connect client for the JSON codec.
func ClientOptions() []connect.ClientOption {
	return []connect.ClientOption{connect.WithCodec(JSONCodec{})}
}

// ToConnectError maps an error kind to a Connect code.
func ToConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case apperr.KindNotFound:
		return connect.NewError(connect.CodeNotFound, err)
	case apperr.KindSecurity:
		return connect.NewError(connect.CodePermissionDenied, err)
	case apperr.KindConcurrencyConflict:
		return connect.NewError(connect.CodeAborted, err)
	case apperr.KindTransientProvider:
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		log.Error().Err(err).Msg("internal error")
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

// HTTPStatus maps an error kind to an HTTP status for plain handlers.
func HTTPStatus(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindSecurity:
		return http.StatusForbidden
	case apperr.KindConcurrencyConflict:
		return http.StatusConflict
	case apperr.KindTransientProvider:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
