package binance

import (
	"fmt"
)

// APIError is a structured rejection from the exchange, e.g. a refused
// order. Transport-level failures are returned as plain wrapped errors.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int64  `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: code %d: %s (http %d)", e.Code, e.Message, e.HTTPStatus)
}
