package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusCreated,
	domain.OrderStatusPaid,
	domain.OrderStatusFailed,
	domain.OrderStatusShipping,
	domain.OrderStatusDelivered,
	domain.OrderStatusReturnRequested,
	domain.OrderStatusReturnApproved,
	domain.OrderStatusReturnInTransit,
	domain.OrderStatusReturned,
	domain.OrderStatusExchangeRequested,
	domain.OrderStatusExchangeApproved,
	domain.OrderStatusExchangeCollecting,
	domain.OrderStatusExchangeReturnCompleted,
	domain.OrderStatusExchangeShipping,
	domain.OrderStatusExchanged,
	domain.OrderStatusCanceled,
}

func TestDecide_Table(t *testing.T) {
	cases := []struct {
		trigger domain.Trigger
		allowed map[domain.OrderStatus]bool
		to      domain.OrderStatus
	}{
		{domain.TriggerPaymentConfirmed, allExcept(domain.OrderStatusPaid), domain.OrderStatusPaid},
		{domain.TriggerPaymentCancelled, allExcept(domain.OrderStatusFailed), domain.OrderStatusFailed},
		{domain.TriggerShippingStarted, onlyStatuses(domain.OrderStatusPaid), domain.OrderStatusShipping},
		{domain.TriggerShippingDelivered, allExcept(domain.OrderStatusDelivered, domain.OrderStatusCanceled), domain.OrderStatusDelivered},
		{domain.TriggerReturnRequested, onlyStatuses(domain.OrderStatusDelivered), domain.OrderStatusReturnRequested},
		{domain.TriggerReturnApproved, onlyStatuses(domain.OrderStatusReturnRequested), domain.OrderStatusReturnApproved},
		{domain.TriggerReturnInTransit, onlyStatuses(domain.OrderStatusReturnApproved), domain.OrderStatusReturnInTransit},
		{domain.TriggerReturnCompleted, allExcept(domain.OrderStatusReturned, domain.OrderStatusCanceled), domain.OrderStatusReturned},
		{domain.TriggerExchangeRequested, onlyStatuses(domain.OrderStatusDelivered), domain.OrderStatusExchangeRequested},
		{domain.TriggerExchangeApproved, onlyStatuses(domain.OrderStatusExchangeRequested), domain.OrderStatusExchangeApproved},
		{domain.TriggerExchangeCollecting, onlyStatuses(domain.OrderStatusExchangeApproved), domain.OrderStatusExchangeCollecting},
		{domain.TriggerExchangeReturnCompleted, onlyStatuses(domain.OrderStatusExchangeCollecting), domain.OrderStatusExchangeReturnCompleted},
		{domain.TriggerExchangeShipping, onlyStatuses(domain.OrderStatusExchangeReturnCompleted), domain.OrderStatusExchangeShipping},
		{domain.TriggerExchangeCompleted, allExcept(domain.OrderStatusExchanged, domain.OrderStatusCanceled), domain.OrderStatusExchanged},
		{domain.TriggerOrderExpired, onlyStatuses(domain.OrderStatusCreated), domain.OrderStatusCanceled},
		{domain.TriggerStockRejected, onlyStatuses(domain.OrderStatusCreated, domain.OrderStatusPaid), domain.OrderStatusFailed},
	}

	for _, tc := range cases {
		for _, from := range allStatuses {
			decision, err := domain.Decide(from, tc.trigger)
			if tc.allowed[from] {
				require.NoError(t, err, "%s from %s", tc.trigger, from)
				assert.Equal(t, tc.to, decision.To)
				assert.Equal(t, from, decision.From)
				assert.Equal(t, tc.trigger, decision.Trigger)
				continue
			}
			require.Error(t, err, "%s from %s", tc.trigger, from)
			assert.True(t, domain.IsTransitionNotAllowed(err))
		}
	}
}

func TestDecide_Effects(t *testing.T) {
	d, err := domain.Decide(domain.OrderStatusCreated, domain.TriggerPaymentConfirmed)
	require.NoError(t, err)
	assert.True(t, d.Has(domain.EffectAttachPayment))

	d, err = domain.Decide(domain.OrderStatusReturnInTransit, domain.TriggerReturnCompleted)
	require.NoError(t, err)
	e, ok := d.Effect(domain.EffectEmitCompensation)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonReturnCompleted, e.Reason)
	assert.False(t, d.Has(domain.EffectEmitCouponRestores))

	d, err = domain.Decide(domain.OrderStatusCreated, domain.TriggerOrderExpired)
	require.NoError(t, err)
	e, ok = d.Effect(domain.EffectEmitCompensation)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonSystemTimeout, e.Reason)
	assert.True(t, d.Has(domain.EffectEmitCouponRestores))

	d, err = domain.Decide(domain.OrderStatusExchangeRequested, domain.TriggerExchangeApproved)
	require.NoError(t, err)
	assert.True(t, d.Has(domain.EffectEmitReplacementSkus))

	d, err = domain.Decide(domain.OrderStatusPaid, domain.TriggerShippingStarted)
	require.NoError(t, err)
	assert.Empty(t, d.Effects)
}

func TestDecide_EffectsAreNotShared(t *testing.T) {
	d, err := domain.Decide(domain.OrderStatusCreated, domain.TriggerOrderExpired)
	require.NoError(t, err)
	d.Effects[0].Reason = "MUTATED"

	again, err := domain.Decide(domain.OrderStatusCreated, domain.TriggerOrderExpired)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonSystemTimeout, again.Effects[0].Reason)
}

func TestDecide_UnknownTrigger(t *testing.T) {
	_, err := domain.Decide(domain.OrderStatusCreated, domain.Trigger("order.teleported"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownTrigger))
	assert.False(t, domain.IsTransitionNotAllowed(err))
}

func TestOverride(t *testing.T) {
	d, err := domain.Override(domain.OrderStatusCanceled, domain.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, d.To)
	assert.Equal(t, domain.TriggerAdminOverride, d.Trigger)

	_, err = domain.Override(domain.OrderStatusPaid, domain.OrderStatus("LOST"))
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func allExcept(excluded ...domain.OrderStatus) map[domain.OrderStatus]bool {
	m := make(map[domain.OrderStatus]bool, len(allStatuses))
	for _, s := range allStatuses {
		m[s] = true
	}
	for _, s := range excluded {
		delete(m, s)
	}
	return m
}

func onlyStatuses(included ...domain.OrderStatus) map[domain.OrderStatus]bool {
	m := make(map[domain.OrderStatus]bool, len(included))
	for _, s := range included {
		m[s] = true
	}
	return m
}
