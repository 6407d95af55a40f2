package events

// Топики брокера. Имя топика совпадает с типом события в outbox.
const (
	TopicPaymentConfirmed        = "payment.confirmed"
	TopicPaymentCancelled        = "payment.cancelled"
	TopicShippingStarted         = "shipping.started"
	TopicShippingDelivered       = "shipping.delivered"
	TopicReturnApproved          = "return.approved"
	TopicReturnInTransit         = "return.in-transit"
	TopicReturnCompleted         = "return.completed"
	TopicExchangeApproved        = "exchange.approved"
	TopicExchangeCollecting      = "exchange.collecting"
	TopicExchangeReturnCompleted = "exchange.return-completed"
	TopicExchangeShipping        = "exchange.shipping"
	TopicExchangeCompleted       = "exchange.completed"
	TopicOrderCancelled          = "order.cancelled"
	TopicInventoryDecrease       = "inventory.decrease"
	TopicStockRejected           = "stock.rejected"
	TopicCouponRestored          = "coupon.restored"
)

// Типы агрегатов, используемые в ключе партиции.
const (
	AggregateOrder  = "order"
	AggregateCoupon = "coupon"
)

// OrderServiceTopics: входящие топики сервиса заказов.
func OrderServiceTopics() []string {
	return []string{
		TopicPaymentConfirmed,
		TopicPaymentCancelled,
		TopicShippingStarted,
		TopicShippingDelivered,
		TopicReturnApproved,
		TopicReturnInTransit,
		TopicReturnCompleted,
		TopicExchangeApproved,
		TopicExchangeCollecting,
		TopicExchangeReturnCompleted,
		TopicExchangeShipping,
		TopicExchangeCompleted,
		TopicStockRejected,
		TopicCouponRestored,
	}
}

// InventoryServiceTopics: входящие топики складского сервиса.
func InventoryServiceTopics() []string {
	return []string{
		TopicInventoryDecrease,
		TopicOrderCancelled,
		TopicPaymentCancelled,
	}
}
