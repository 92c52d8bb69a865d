package checkout

import "errors"

var (
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrUnauthorized    = errors.New("requester does not own this checkout session")
	ErrCartEmpty       = errors.New("cart is empty")
	ErrDiscountInvalid = errors.New("discount cannot be applied")
)
