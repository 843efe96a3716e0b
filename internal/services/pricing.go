package services

import (
	domain "github.com/bazaarbd/storefront/internal/domain"
)

// CalculateTotals sums unit price times quantity and adds the shipping cost.
// Amounts are integer poisha, so repeated calls and long carts never drift.
func CalculateTotals(items []CartLineItem, shippingCost Money) CheckoutTotals {
	var subtotal Money
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	return domain.CheckoutTotals{
		Subtotal:     subtotal,
		ShippingCost: shippingCost,
		Total:        subtotal + shippingCost,
	}
}

// BuyNowItems turns a single product into a one-line cart with quantity 1.
func BuyNowItems(product Product) []CartLineItem {
	return []CartLineItem{{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		ImageURL:  product.ImageURL,
		Quantity:  1,
	}}
}
