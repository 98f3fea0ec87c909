package payments

// Merge functions apply an event's fields onto an existing row,
// last-write-wins per field. Fields are listed explicitly so the set of
// columns a webhook may override stays a reviewable decision.

func applyPaymentPatch(pay *Payment, p PaymentPatch) {
	if p.PaymentIntentID != nil {
		pay.PaymentIntentID = *p.PaymentIntentID
	}
	if p.CustomerExternalID != nil {
		pay.CustomerExternalID = *p.CustomerExternalID
	}
	if p.Amount != nil {
		pay.Amount = *p.Amount
	}
	if p.AmountRefunded != nil {
		pay.AmountRefunded = *p.AmountRefunded
	}
	if p.Currency != nil {
		pay.Currency = *p.Currency
	}
	if p.Status != nil {
		pay.Status = *p.Status
	}
	if p.Description != nil {
		pay.Description = *p.Description
	}
	if p.InvoiceID != nil {
		pay.InvoiceID = *p.InvoiceID
	}
	if p.PaymentMethodID != nil {
		pay.PaymentMethodID = *p.PaymentMethodID
	}
	if p.PaymentMethodType != nil {
		pay.PaymentMethodType = *p.PaymentMethodType
	}
	if p.ReceiptURL != nil {
		pay.ReceiptURL = *p.ReceiptURL
	}
	if p.FailureCode != nil {
		pay.FailureCode = *p.FailureCode
	}
	if p.FailureMessage != nil {
		pay.FailureMessage = *p.FailureMessage
	}
	if p.BillingDetails != nil {
		pay.BillingDetails = p.BillingDetails
	}
	if p.Metadata != nil {
		pay.Metadata = p.Metadata
	}
}

func applyPaymentCustomerPatch(c *PaymentCustomer, p PaymentCustomerPatch) {
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Currency != nil {
		c.Currency = *p.Currency
	}
	if p.Delinquent != nil {
		c.Delinquent = *p.Delinquent
	}
	if p.Balance != nil {
		c.Balance = *p.Balance
	}
	if p.DefaultPaymentMethodID != nil {
		c.DefaultPaymentMethodID = *p.DefaultPaymentMethodID
	}
	if p.DefaultPaymentMethodType != nil {
		c.DefaultPaymentMethodType = *p.DefaultPaymentMethodType
	}
	if p.InvoicePrefix != nil {
		c.InvoicePrefix = *p.InvoicePrefix
	}
	if p.Address != nil {
		c.Address = p.Address
	}
	if p.Metadata != nil {
		c.Metadata = p.Metadata
	}
}

func applySubscriptionPatch(s *Subscription, p SubscriptionPatch) {
	if p.CustomerExternalID != nil {
		s.CustomerExternalID = *p.CustomerExternalID
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.PriceID != nil {
		s.PriceID = *p.PriceID
	}
	if p.Quantity != nil {
		s.Quantity = *p.Quantity
	}
	if p.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = p.CurrentPeriodStart
	}
	if p.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = p.CurrentPeriodEnd
	}
	if p.TrialStart != nil {
		s.TrialStart = p.TrialStart
	}
	if p.TrialEnd != nil {
		s.TrialEnd = p.TrialEnd
	}
	if p.CanceledAt != nil {
		s.CanceledAt = p.CanceledAt
	}
	if p.Items != nil {
		s.Items = p.Items
	}
	if p.Metadata != nil {
		s.Metadata = p.Metadata
	}
}
