package models

// StatisticsResponse represents decision counters
type StatisticsResponse struct {
	Total          uint64  `json:"total"`
	Allowed        uint64  `json:"allowed"`
	Denied         uint64  `json:"denied"`
	Blocked        uint64  `json:"blocked"`
	Monitored      uint64  `json:"monitored"`
	Exempt         uint64  `json:"exempt"`
	OutOfScope     uint64  `json:"out_of_scope"`
	AuditPublished uint64  `json:"audit_published"`
	AuditDropped   uint64  `json:"audit_dropped"`
	DenyRate       float64 `json:"deny_rate"`
}
