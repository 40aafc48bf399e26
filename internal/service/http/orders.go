package httpsvc

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

type updateOrderRequest struct {
	Status          *string `json:"status"`
	PaymentStatus   *string `json:"paymentStatus"`
	TrackingNumber  *string `json:"trackingNumber"`
	ExpectedVersion *int64  `json:"expectedVersion"`
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.deps.Orders.List(r.Context(), IdentityFrom(r.Context()), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toOrderList(result))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	details, err := s.deps.Orders.Get(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"order": toOrderJSON(details.Order, details.Timeline)})
}

// adminListOrders — GET /admin/orders?status=&page=&limit=
func (s *Server) adminListOrders(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.deps.Orders.AdminList(r.Context(), IdentityFrom(r.Context()), r.URL.Query().Get("status"), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toOrderList(result))
}

// adminUpdateOrder — PATCH /admin/orders/{orderID}. expectedVersion включает
// строгую проверку версии без повторов.
func (s *Server) adminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateOrderRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, err := s.deps.Orders.AdminUpdate(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "orderID"), orders.UpdateRequest{
		Status:          req.Status,
		PaymentStatus:   req.PaymentStatus,
		TrackingNumber:  req.TrackingNumber,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"order": toOrderJSON(order, nil)})
}

func pageParams(r *http.Request) (int, int, error) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}
