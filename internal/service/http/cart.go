package httpsvc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.writeCart(w, r)
}

// addCartItem — POST /cart/items. Анонимному покупателю выставляется
// гостевой cookie.
func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addItemRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, r, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	res, err := s.deps.Carts.Add(r.Context(), IdentityFrom(r.Context()), req.ProductID, qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.GuestTokenIssued {
		s.setGuestCookie(w, res.Identity.GuestToken())
	}

	writeSuccess(w, http.StatusCreated, map[string]any{
		"item": map[string]any{
			"id":        res.Item.ID,
			"productId": res.Item.ProductID,
			"quantity":  res.Item.Quantity,
		},
	})
}

// updateCartItem — PATCH /cart/items/{itemID}; quantity 0 удаляет позицию.
func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateItemRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Quantity == nil {
		writeError(w, r, fieldRequired("quantity"))
		return
	}

	id := IdentityFrom(r.Context())
	if err := s.deps.Carts.Update(r.Context(), id, chi.URLParam(r, "itemID"), *req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeCart(w, r)
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	if err := s.deps.Carts.Remove(r.Context(), id, chi.URLParam(r, "itemID")); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeCart(w, r)
}

// clearCart — POST /cart/clear. Гостевой cookie истекает.
func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	removed, err := s.deps.Carts.Clear(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id.GuestToken() != "" {
		s.expireGuestCookie(w)
	}
	writeSuccess(w, http.StatusOK, map[string]any{"removed": removed})
}

// mergeCart — POST /cart/merge: гостевая корзина переезжает в корзину пользователя.
func (s *Server) mergeCart(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Carts.Merge(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.expireGuestCookie(w)
	writeSuccess(w, http.StatusOK, map[string]any{"cart": toCartJSON(view)})
}

func (s *Server) writeCart(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Carts.Get(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"cart": toCartJSON(view)})
}
