package domain

import "fmt"

// Trigger: внешнее событие или действие, запрашивающее смену статуса заказа.
type Trigger string

const (
	TriggerPaymentConfirmed        Trigger = "payment.confirmed"
	TriggerPaymentCancelled        Trigger = "payment.cancelled"
	TriggerShippingStarted         Trigger = "shipping.started"
	TriggerShippingDelivered       Trigger = "shipping.delivered"
	TriggerReturnRequested         Trigger = "return.requested"
	TriggerReturnApproved          Trigger = "return.approved"
	TriggerReturnInTransit         Trigger = "return.in-transit"
	TriggerReturnCompleted         Trigger = "return.completed"
	TriggerExchangeRequested       Trigger = "exchange.requested"
	TriggerExchangeApproved        Trigger = "exchange.approved"
	TriggerExchangeCollecting      Trigger = "exchange.collecting"
	TriggerExchangeReturnCompleted Trigger = "exchange.return-completed"
	TriggerExchangeShipping        Trigger = "exchange.shipping"
	TriggerExchangeCompleted       Trigger = "exchange.completed"
	TriggerOrderExpired            Trigger = "order.expired"
	TriggerStockRejected           Trigger = "stock.rejected"
	TriggerAdminOverride           Trigger = "admin.override"
)

// EffectKind: побочный эффект, который вызывающий код обязан выполнить после перехода.
type EffectKind string

const (
	EffectAttachPayment       EffectKind = "attach_payment"
	EffectOpenReturnCase      EffectKind = "open_return_case"
	EffectOpenExchangeCase    EffectKind = "open_exchange_case"
	EffectEmitCompensation    EffectKind = "emit_compensation"
	EffectEmitReplacementSkus EffectKind = "emit_replacement_decrease"
	EffectEmitCouponRestores  EffectKind = "emit_coupon_restores"
)

// CompensationReason передаётся в order.cancelled и определяет причину отката.
type CompensationReason string

const (
	ReasonReturnCompleted CompensationReason = "RETURN_COMPLETED"
	ReasonSystemTimeout   CompensationReason = "SYSTEM_TIMEOUT"
	ReasonStockRejected   CompensationReason = "STOCK_REJECTED"
)

// Effect: элемент списка побочных эффектов перехода.
type Effect struct {
	Kind   EffectKind
	Reason CompensationReason
}

// Decision: результат чистой функции перехода.
type Decision struct {
	From    OrderStatus
	To      OrderStatus
	Trigger Trigger
	Effects []Effect
}

// Has сообщает, содержит ли решение эффект указанного вида.
func (d Decision) Has(kind EffectKind) bool {
	_, ok := d.Effect(kind)
	return ok
}

// Effect возвращает первый эффект указанного вида.
func (d Decision) Effect(kind EffectKind) (Effect, bool) {
	for _, e := range d.Effects {
		if e.Kind == kind {
			return e, true
		}
	}
	return Effect{}, false
}

type guard func(OrderStatus) bool

func only(allowed ...OrderStatus) guard {
	return func(s OrderStatus) bool {
		for _, a := range allowed {
			if s == a {
				return true
			}
		}
		return false
	}
}

func except(forbidden ...OrderStatus) guard {
	return func(s OrderStatus) bool {
		for _, f := range forbidden {
			if s == f {
				return false
			}
		}
		return true
	}
}

type transition struct {
	guard   guard
	to      OrderStatus
	effects []Effect
}

var transitions = map[Trigger]transition{
	TriggerPaymentConfirmed: {
		guard:   except(OrderStatusPaid),
		to:      OrderStatusPaid,
		effects: []Effect{{Kind: EffectAttachPayment}},
	},
	TriggerPaymentCancelled: {
		guard: except(OrderStatusFailed),
		to:    OrderStatusFailed,
	},
	TriggerShippingStarted: {
		guard: only(OrderStatusPaid),
		to:    OrderStatusShipping,
	},
	TriggerShippingDelivered: {
		guard: except(OrderStatusDelivered, OrderStatusCanceled),
		to:    OrderStatusDelivered,
	},
	TriggerReturnRequested: {
		guard:   only(OrderStatusDelivered),
		to:      OrderStatusReturnRequested,
		effects: []Effect{{Kind: EffectOpenReturnCase}},
	},
	TriggerReturnApproved: {
		guard: only(OrderStatusReturnRequested),
		to:    OrderStatusReturnApproved,
	},
	TriggerReturnInTransit: {
		guard: only(OrderStatusReturnApproved),
		to:    OrderStatusReturnInTransit,
	},
	TriggerReturnCompleted: {
		guard:   except(OrderStatusReturned, OrderStatusCanceled),
		to:      OrderStatusReturned,
		effects: []Effect{{Kind: EffectEmitCompensation, Reason: ReasonReturnCompleted}},
	},
	TriggerExchangeRequested: {
		guard:   only(OrderStatusDelivered),
		to:      OrderStatusExchangeRequested,
		effects: []Effect{{Kind: EffectOpenExchangeCase}},
	},
	TriggerExchangeApproved: {
		guard:   only(OrderStatusExchangeRequested),
		to:      OrderStatusExchangeApproved,
		effects: []Effect{{Kind: EffectEmitReplacementSkus}},
	},
	TriggerExchangeCollecting: {
		guard: only(OrderStatusExchangeApproved),
		to:    OrderStatusExchangeCollecting,
	},
	TriggerExchangeReturnCompleted: {
		guard: only(OrderStatusExchangeCollecting),
		to:    OrderStatusExchangeReturnCompleted,
	},
	TriggerExchangeShipping: {
		guard: only(OrderStatusExchangeReturnCompleted),
		to:    OrderStatusExchangeShipping,
	},
	TriggerExchangeCompleted: {
		guard: except(OrderStatusExchanged, OrderStatusCanceled),
		to:    OrderStatusExchanged,
	},
	TriggerOrderExpired: {
		guard: only(OrderStatusCreated),
		to:    OrderStatusCanceled,
		effects: []Effect{
			{Kind: EffectEmitCompensation, Reason: ReasonSystemTimeout},
			{Kind: EffectEmitCouponRestores},
		},
	},
	TriggerStockRejected: {
		guard: only(OrderStatusCreated, OrderStatusPaid),
		to:    OrderStatusFailed,
		effects: []Effect{
			{Kind: EffectEmitCompensation, Reason: ReasonStockRejected},
			{Kind: EffectEmitCouponRestores},
		},
	},
}

// Decide вычисляет переход для текущего статуса. Функция чистая: заказ не меняется.
// Если guard не выполнен, возвращается ErrTransitionNotAllowed.
func Decide(current OrderStatus, trigger Trigger) (Decision, error) {
	t, ok := transitions[trigger]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}
	if !t.guard(current) {
		return Decision{}, fmt.Errorf("%w: %s from %s", ErrTransitionNotAllowed, trigger, current)
	}
	return Decision{
		From:    current,
		To:      t.to,
		Trigger: trigger,
		Effects: append([]Effect(nil), t.effects...),
	}, nil
}

// Override: административная смена статуса в обход guard-условий.
func Override(current, target OrderStatus) (Decision, error) {
	if !target.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	return Decision{From: current, To: target, Trigger: TriggerAdminOverride}, nil
}
