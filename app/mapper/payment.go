package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/types"
)

func PaymentToMessage(item *entity.Payment) *types.Payment {
	if item == nil {
		return nil
	}

	return &types.Payment{
		Id:                item.ID,
		InvestmentId:      item.InvestmentID,
		Amount:            item.Amount.StringFixed(2),
		Currency:          item.Currency,
		Status:            string(item.Status),
		Provider:          item.Provider,
		ProviderPaymentId: derefString(item.ProviderPaymentID),
		CheckoutUrl:       derefString(item.CheckoutURL),
		IdempotencyKey:    derefString(item.IdempotencyKey),
		Version:           item.Version,
		CreatedAt:         item.CreatedAt.UTC(),
		UpdatedAt:         item.UpdatedAt.UTC(),
		LastEventAt:       utcTime(item.LastEventAt),
		ConfirmedAt:       utcTime(item.ConfirmedAt),
	}
}

func PaymentToResponse(item *entity.Payment) *types.PaymentResponse {
	return &types.PaymentResponse{Payment: PaymentToMessage(item)}
}

func TransitionsToResponse(items []*entity.TransitionLogEntry) *types.ListPaymentTransitionsResponse {
	result := make([]*types.Transition, 0, len(items))
	for _, item := range items {
		result = append(result, &types.Transition{
			Id:         item.ID,
			PaymentId:  item.PaymentID,
			FromStatus: string(item.FromStatus),
			ToStatus:   string(item.ToStatus),
			Reason:     item.Reason,
			ActorType:  string(item.ActorType),
			ActorId:    item.ActorID,
			CreatedAt:  item.CreatedAt.UTC(),
		})
	}
	return &types.ListPaymentTransitionsResponse{Transitions: result}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func utcTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := v.UTC()
	return &t
}
