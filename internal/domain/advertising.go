package domain

// AdvertisingInfo is the result of a single fetch. It is built once and never
// mutated afterwards.
type AdvertisingInfo struct {
	ID                   string `json:"id"`
	LimitTrackingEnabled bool   `json:"limit_tracking_enabled"`
}

// DefaultAdvertisingInfo is delivered when the identifier cannot be obtained
// because of a soft failure.
var DefaultAdvertisingInfo = AdvertisingInfo{}

// IsZero reports whether info equals DefaultAdvertisingInfo.
func (i AdvertisingInfo) IsZero() bool {
	return i.ID == "" && !i.LimitTrackingEnabled
}
