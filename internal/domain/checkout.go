package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxAddressFieldLen = 100
	maxPaymentMethod   = 64
)

// ShippingAddressRequest — адрес доставки в том виде, как он пришёл в запросе.
type ShippingAddressRequest struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// CheckoutRequest — тело POST /checkout.
type CheckoutRequest struct {
	ShippingAddress *ShippingAddressRequest `json:"shippingAddress"`
	ShippingMethod  string                  `json:"shippingMethod"`
	PaymentMethod   string                  `json:"paymentMethod"`
}

// CheckoutInput — проверенные данные оформления.
type CheckoutInput struct {
	Address        Address
	ShippingMethod ShippingMethod
	PaymentMethod  string
}

// PlacementResult — результат оформления заказа.
type PlacementResult struct {
	OrderID     string
	OrderNumber string
	Total       int64
	Currency    string
}

// ValidateCheckoutRequest проверяет запрос целиком и возвращает либо
// CheckoutInput, либо *ValidationError со всеми найденными ошибками полей.
func ValidateCheckoutRequest(req CheckoutRequest) (CheckoutInput, error) {
	verr := &ValidationError{}

	method := ShippingStandard
	if strings.TrimSpace(req.ShippingMethod) != "" {
		parsed, ok := ParseShippingMethod(req.ShippingMethod)
		if !ok {
			verr.Add("shippingMethod", "must be one of STANDARD, EXPRESS, OVERNIGHT")
		}
		method = parsed
	}

	payment := strings.TrimSpace(req.PaymentMethod)
	if payment == "" {
		payment = DefaultPaymentMethod
	}
	if utf8.RuneCountInString(payment) > maxPaymentMethod {
		verr.Add("paymentMethod", "is too long")
	}

	var addr Address
	if req.ShippingAddress == nil {
		verr.Add("shippingAddress", "is required")
	} else {
		src := req.ShippingAddress
		fields := []struct {
			name  string
			value string
			dst   *string
		}{
			{"shippingAddress.firstName", src.FirstName, &addr.FirstName},
			{"shippingAddress.lastName", src.LastName, &addr.LastName},
			{"shippingAddress.street", src.Street, &addr.Street},
			{"shippingAddress.city", src.City, &addr.City},
			{"shippingAddress.state", src.State, &addr.State},
			{"shippingAddress.postalCode", src.PostalCode, &addr.PostalCode},
			{"shippingAddress.country", src.Country, &addr.Country},
			{"shippingAddress.phone", src.Phone, &addr.Phone},
		}
		for _, f := range fields {
			value := strings.TrimSpace(f.value)
			switch {
			case value == "":
				verr.Add(f.name, "is required")
			case utf8.RuneCountInString(value) > maxAddressFieldLen:
				verr.Add(f.name, "is too long")
			}
			*f.dst = value
		}
		if addr.PostalCode != "" && !validPostalCode(addr.PostalCode) {
			verr.Add("shippingAddress.postalCode", "has invalid format")
		}
		if addr.Phone != "" && !validPhone(addr.Phone) {
			verr.Add("shippingAddress.phone", "has invalid format")
		}
	}

	if err := verr.OrNil(); err != nil {
		return CheckoutInput{}, err
	}

	return CheckoutInput{
		Address:        addr,
		ShippingMethod: method,
		PaymentMethod:  payment,
	}, nil
}

func validPostalCode(v string) bool {
	if len(v) < 3 || len(v) > 12 {
		return false
	}
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '-' {
			return false
		}
	}
	return true
}

func validPhone(v string) bool {
	digits := 0
	for _, r := range v {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
