package httpsvc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
)

type productJSON struct {
	ID            string    `json:"id"`
	Slug          string    `json:"slug"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Price         int64     `json:"price"`
	StockQuantity int       `json:"stockQuantity"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
}

type paginationJSON struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type cartLineJSON struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
	Available bool   `json:"available"`
}

type cartJSON struct {
	ID        string         `json:"id,omitempty"`
	Items     []cartLineJSON `json:"items"`
	ItemCount int            `json:"itemCount"`
	Subtotal  int64          `json:"subtotal"`
}

type addressJSON struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type orderItemJSON struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	Subtotal    int64  `json:"subtotal"`
}

type timelineJSON struct {
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type orderJSON struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	UserID          string          `json:"userId"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"paymentStatus"`
	PaymentMethod   string          `json:"paymentMethod"`
	ShippingMethod  string          `json:"shippingMethod"`
	Currency        string          `json:"currency"`
	Subtotal        int64           `json:"subtotal"`
	ShippingCost    int64           `json:"shippingCost"`
	TaxRateBps      int64           `json:"taxRateBps"`
	Tax             int64           `json:"tax"`
	Total           int64           `json:"total"`
	TrackingNumber  string          `json:"trackingNumber,omitempty"`
	Version         int64           `json:"version"`
	Items           []orderItemJSON `json:"items"`
	ShippingAddress *addressJSON    `json:"shippingAddress,omitempty"`
	Timeline        []timelineJSON  `json:"timeline,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func toProductJSON(p domain.Product) productJSON {
	return productJSON{
		ID:            p.ID,
		Slug:          p.Slug,
		Name:          p.Name,
		Description:   p.Description,
		Category:      p.Category,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		Active:        p.Active,
		CreatedAt:     p.CreatedAt,
	}
}

func toCartJSON(v cart.View) cartJSON {
	out := cartJSON{
		ID:        v.CartID,
		Items:     make([]cartLineJSON, 0, len(v.Lines)),
		ItemCount: v.ItemCount,
		Subtotal:  v.Subtotal,
	}
	for _, l := range v.Lines {
		out.Items = append(out.Items, cartLineJSON{
			ID:        l.ItemID,
			ProductID: l.ProductID,
			Slug:      l.Slug,
			Name:      l.Name,
			Price:     l.Price,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal,
			Available: l.Available,
		})
	}
	return out
}

func toOrderJSON(o domain.Order, timeline []domain.TimelineEvent) orderJSON {
	out := orderJSON{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		PaymentMethod:  o.PaymentMethod,
		ShippingMethod: string(o.ShippingMethod),
		Currency:       o.Currency,
		Subtotal:       o.Subtotal,
		ShippingCost:   o.ShippingCost,
		TaxRateBps:     o.TaxRateBps,
		Tax:            o.Tax,
		Total:          o.Total,
		TrackingNumber: o.TrackingNumber,
		Version:        o.Version,
		Items:          make([]orderItemJSON, 0, len(o.Items)),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, orderItemJSON{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice,
			Subtotal:    it.Subtotal,
		})
	}
	if a := o.Address; a != nil {
		out.ShippingAddress = &addressJSON{
			FirstName:  a.FirstName,
			LastName:   a.LastName,
			Street:     a.Street,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
			Phone:      a.Phone,
		}
	}
	for _, e := range timeline {
		out.Timeline = append(out.Timeline, timelineJSON{Type: e.Type, Actor: e.Actor, Reason: e.Reason, OccurredAt: e.Occurred})
	}
	return out
}

func toOrderList(page domain.OrderPage) map[string]any {
	items := make([]orderJSON, 0, len(page.Orders))
	for _, o := range page.Orders {
		items = append(items, toOrderJSON(o, nil))
	}
	return map[string]any{
		"orders": items,
		"pagination": paginationJSON{
			Page:  page.Page,
			Limit: page.Limit,
			Total: page.Total,
			Pages: page.TotalPages(),
		},
	}
}

// readBody читает тело запроса с ограничением размера.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, invalidBody("request body is too large")
		}
		return nil, invalidBody("request body could not be read")
	}
	return raw, nil
}

// decodeJSON разбирает тело; пустое тело допустимо и оставляет v нетронутым.
func decodeJSON(raw []byte, v any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidBody("request body must be valid JSON")
	}
	return nil
}

func invalidBody(message string) error {
	verr := &domain.ValidationError{}
	verr.Add("body", message)
	return verr
}

func fieldRequired(field string) error {
	verr := &domain.ValidationError{}
	verr.Add(field, "is required")
	return verr
}

// queryInt читает целый параметр запроса; пустое значение даёт def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		verr := &domain.ValidationError{}
		verr.Add(name, "must be an integer")
		return 0, verr
	}
	return v, nil
}

func queryAmount(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		verr := &domain.ValidationError{}
		verr.Add(name, "must be a non-negative integer")
		return 0, verr
	}
	return v, nil
}
