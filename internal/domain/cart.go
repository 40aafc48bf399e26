package domain

import "time"

// MaxCartLineQty — верхняя граница количества одного товара в корзине.
const MaxCartLineQty = 999

// CartLineQuantity складывает текущее количество позиции с добавляемым и
// возвращает false, если сумма выходит за MaxCartLineQty.
func CartLineQuantity(current, delta int) (int, bool) {
	if current < 0 || delta < 0 || current > MaxCartLineQty || delta > MaxCartLineQty-current {
		return 0, false
	}
	return current + delta, true
}

// Cart — корзина, привязанная к ключу владельца (id пользователя или гостевой токен).
type Cart struct {
	ID        string
	OwnerKey  string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ProductIDs возвращает идентификаторы товаров в порядке позиций.
func (c Cart) ProductIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// FindItem ищет позицию по идентификатору.
func (c Cart) FindItem(itemID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return CartItem{}, false
}

// QuantityOf возвращает количество товара в корзине (0, если позиции нет).
func (c Cart) QuantityOf(productID string) int {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

// CartItem — позиция корзины. Quantity всегда > 0: нулевые позиции удаляются.
type CartItem struct {
	ID        string
	CartID    string
	ProductID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine — позиция корзины вместе с актуальным состоянием товара.
type CartLine struct {
	Item    CartItem
	Product Product
}

// Subtotal возвращает стоимость строки по текущей цене.
func (l CartLine) Subtotal() int64 {
	return l.Product.Price * int64(l.Item.Quantity)
}
