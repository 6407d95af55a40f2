package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order number is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("order amounts must be non-negative")
	// Ошибка отсутствующего SKU в позиции.
	ErrItemSkuRequired = errors.New("item sku_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная или не совпадает с qty*unit_price.
	ErrItemPriceInvalid = errors.New("item price is invalid")
	// Ошибка несоответствия сумм заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amounts do not match items sum")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего способа оплаты.
	ErrPaymentMethodRequired = errors.New("payment method is required")
	// Ошибка отсутствующего внешнего ключа платежа.
	ErrPaymentKeyRequired = errors.New("payment key is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrStockNegative: остаток SKU не может быть отрицательным.
	ErrStockNegative = errors.New("sku stock must be non-negative")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID или номером уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrTransitionNotAllowed: текущий статус заказа не допускает переход.
	ErrTransitionNotAllowed = errors.New("order status transition not allowed")
	// ErrUnknownTrigger: для события нет строки в таблице переходов.
	ErrUnknownTrigger = errors.New("unknown order trigger")
	// ErrInvalidStatus: статус не входит в жизненный цикл заказа.
	ErrInvalidStatus = errors.New("invalid order status")

	// ErrSkuNotFound возвращается, если SKU отсутствует на складе.
	ErrSkuNotFound = errors.New("sku not found")
	// ErrInsufficientStock: остатка не хватает для списания (бизнес-ошибка).
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCouponNotFound возвращается, если купон не найден.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponUnavailable: купон не принадлежит пользователю или уже использован.
	ErrCouponUnavailable = errors.New("coupon is not available")
	// ErrOrderOwnerMismatch: заказ принадлежит другому пользователю.
	ErrOrderOwnerMismatch = errors.New("order belongs to another user")
	// ErrAlreadyProcessed: запись (event_type, aggregate_id) уже есть в журнале обработки.
	ErrAlreadyProcessed = errors.New("event already processed")

	// ErrShippingBadRequest: служба доставки отклонила запрос как некорректный.
	ErrShippingBadRequest = errors.New("shipping: bad request")
	// ErrShippingConflict: по заказу уже открыт возврат или обмен.
	ErrShippingConflict = errors.New("shipping: case already open")
	// ErrShippingUnavailable: прочие ошибки службы доставки, можно повторить позже.
	ErrShippingUnavailable = errors.New("shipping: unavailable")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: сообщение outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound сообщает, что ссылка на агрегат не разрешилась (заказ, SKU или купон).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrSkuNotFound) ||
		errors.Is(err, ErrCouponNotFound)
}

// IsTransitionNotAllowed проверяет отказ guard-условия.
func IsTransitionNotAllowed(err error) bool {
	return errors.Is(err, ErrTransitionNotAllowed)
}

// IsBusinessRule относит ошибку к бизнес-правилам, которые обрабатываются на месте и не ретраятся.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrCouponUnavailable) ||
		errors.Is(err, ErrOrderOwnerMismatch) ||
		errors.Is(err, ErrShippingBadRequest) ||
		errors.Is(err, ErrShippingConflict)
}
