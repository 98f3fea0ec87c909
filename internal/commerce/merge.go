package commerce

// Merge functions apply an event's fields onto an existing row,
// last-write-wins per field. Each field is listed explicitly so which
// fields an update event may override is a reviewable decision, not a
// property of whatever keys the payload happened to carry.

func applyOrderPatch(o *Order, p OrderPatch) {
	if p.OrderNumber != nil {
		o.OrderNumber = *p.OrderNumber
	}
	if p.Email != nil {
		o.Email = *p.Email
	}
	if p.Currency != nil {
		o.Currency = *p.Currency
	}
	if p.TotalPrice != nil {
		o.TotalPrice = *p.TotalPrice
	}
	if p.SubtotalPrice != nil {
		o.SubtotalPrice = *p.SubtotalPrice
	}
	if p.TotalTax != nil {
		o.TotalTax = *p.TotalTax
	}
	if p.FinancialStatus != nil {
		o.FinancialStatus = *p.FinancialStatus
	}
	if p.FulfillmentStatus != nil {
		o.FulfillmentStatus = *p.FulfillmentStatus
	}
	if p.CustomerExternalID != nil {
		o.CustomerExternalID = *p.CustomerExternalID
	}
	if p.Note != nil {
		o.Note = *p.Note
	}
	if p.Tags != nil {
		o.Tags = *p.Tags
	}
	if p.CancelReason != nil {
		o.CancelReason = *p.CancelReason
	}
	if p.ProcessedAt != nil {
		o.ProcessedAt = p.ProcessedAt
	}
	if p.CancelledAt != nil {
		o.CancelledAt = p.CancelledAt
	}
	if p.FulfilledAt != nil {
		o.FulfilledAt = p.FulfilledAt
	}
	if p.PaidAt != nil {
		o.PaidAt = p.PaidAt
	}
	if p.LineItems != nil {
		o.LineItems = p.LineItems
	}
	if p.ShippingAddress != nil {
		o.ShippingAddress = p.ShippingAddress
	}
	if p.BillingAddress != nil {
		o.BillingAddress = p.BillingAddress
	}
	if p.DiscountCodes != nil {
		o.DiscountCodes = p.DiscountCodes
	}
}

func applyCustomerPatch(c *Customer, p CustomerPatch) {
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		c.LastName = *p.LastName
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.OrdersCount != nil {
		c.OrdersCount = *p.OrdersCount
	}
	if p.TotalSpent != nil {
		c.TotalSpent = *p.TotalSpent
	}
	if p.Currency != nil {
		c.Currency = *p.Currency
	}
	if p.VerifiedEmail != nil {
		c.VerifiedEmail = *p.VerifiedEmail
	}
	if p.TaxExempt != nil {
		c.TaxExempt = *p.TaxExempt
	}
	if p.AcceptsMarketing != nil {
		c.AcceptsMarketing = *p.AcceptsMarketing
	}
	if p.Tags != nil {
		c.Tags = *p.Tags
	}
	if p.Addresses != nil {
		c.Addresses = p.Addresses
	}
	if p.DefaultAddress != nil {
		c.DefaultAddress = p.DefaultAddress
	}
}

func applyProductPatch(pr *Product, p ProductPatch) {
	if p.Title != nil {
		pr.Title = *p.Title
	}
	if p.BodyHTML != nil {
		pr.BodyHTML = *p.BodyHTML
	}
	if p.Vendor != nil {
		pr.Vendor = *p.Vendor
	}
	if p.ProductType != nil {
		pr.ProductType = *p.ProductType
	}
	if p.Handle != nil {
		pr.Handle = *p.Handle
	}
	if p.Status != nil {
		pr.Status = *p.Status
	}
	if p.Tags != nil {
		pr.Tags = *p.Tags
	}
	if p.PublishedAt != nil {
		pr.PublishedAt = p.PublishedAt
	}
	if p.Variants != nil {
		pr.Variants = p.Variants
	}
	if p.Options != nil {
		pr.Options = p.Options
	}
	if p.Images != nil {
		pr.Images = p.Images
	}
}
