package stock

// Sold derives units sold from the reconciliation identity.
// A negative result means the counts do not reconcile; it is returned as-is.
func Sold(opening, received, damaged, closing int64) int64 {
	return opening + received - damaged - closing
}
