package postgres

import "github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"

func toDomainOrder(m orderModel, items []orderItemModel) domain.Order {
	order := domain.Order{
		OrderID: m.OrderID, OrderRef: m.OrderRef, UserID: m.UserID,
		Status: domain.OrderStatus(m.Status), PaymentStatus: domain.PaymentStatus(m.PaymentStatus),
		PaymentMethod: m.PaymentMethod, TotalAmount: m.TotalAmount, Currency: m.Currency,
		GatewayPaymentKey: deref(m.GatewayPaymentKey), GatewayOrderID: deref(m.GatewayOrderID),
		PartnerLinkID: deref(m.PartnerLinkID), CommissionState: domain.CommissionState(m.CommissionState),
		CommissionAmount: m.CommissionAmount, CancelReason: deref(m.CancelReason),
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, ConfirmedAt: m.ConfirmedAt, CancelledAt: m.CancelledAt,
	}
	order.Items = make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		order.Items = append(order.Items, toDomainLineItem(item))
	}
	return order
}

func toDomainLineItem(m orderItemModel) domain.LineItem {
	return domain.LineItem{
		ItemID: m.ItemID, ProductID: m.ProductID, Title: m.Title,
		Quantity: m.Quantity, UnitPrice: m.UnitPrice,
	}
}

func toDomainPartnerLink(m partnerLinkModel) domain.PartnerLink {
	return domain.PartnerLink{
		PartnerLinkID: m.PartnerLinkID, PartnerID: m.PartnerID, ProductID: m.ProductID,
		ShortCode: m.ShortCode, ClickCount: m.ClickCount, ConversionCount: m.ConversionCount,
		Revenue: m.Revenue, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func toDomainBusinessRegistration(m businessRegistrationModel) domain.BusinessRegistration {
	return domain.BusinessRegistration{
		RegistrationID: m.RegistrationID, UserID: m.UserID, BusinessName: m.BusinessName,
		SellerID: deref(m.SellerID), GatewayStatus: m.GatewayStatus, UpdatedAt: m.UpdatedAt,
	}
}
