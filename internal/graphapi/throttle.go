package graphapi

import (
	"encoding/json"
	"net/http"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/quota"
)

const (
	// HeaderInsightsThrottle carries the insights utilization of the app and the account.
	HeaderInsightsThrottle = "X-Fb-Ads-Insights-Throttle"
	// HeaderBusinessUsage carries per-account usage including the time until access is regained.
	HeaderBusinessUsage = "X-Business-Use-Case-Usage"
)

type insightsThrottle struct {
	AppUtilPct float64 `json:"app_id_util_pct"`
	AccUtilPct float64 `json:"acc_id_util_pct"`
}

type businessUsage struct {
	Type                        string  `json:"type"`
	CallCount                   float64 `json:"call_count"`
	TotalCPUTime                float64 `json:"total_cputime"`
	TotalTime                   float64 `json:"total_time"`
	EstimatedTimeToRegainAccess float64 `json:"estimated_time_to_regain_access"` // minutes
}

// parseThrottle extracts a quota signal from response headers. ok is false when
// the response carried no usable throttle information.
func parseThrottle(h http.Header) (sig quota.Signal, ok bool) {
	sig = quota.Unreported

	if raw := h.Get(HeaderInsightsThrottle); raw != "" {
		var t insightsThrottle
		if err := json.Unmarshal([]byte(raw), &t); err == nil {
			sig.Utilization = max(t.AppUtilPct, t.AccUtilPct)
			ok = true
		}
	}

	if raw := h.Get(HeaderBusinessUsage); raw != "" {
		var usage map[string][]businessUsage
		if err := json.Unmarshal([]byte(raw), &usage); err == nil {
			var minutes float64
			for _, entries := range usage {
				for _, e := range entries {
					minutes = max(minutes, e.EstimatedTimeToRegainAccess)
				}
			}
			if minutes > 0 {
				sig.CoolDown = time.Duration(minutes * float64(time.Minute))
				ok = true
			}
		}
	}
	return sig, ok
}
