package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

// CounterDef binds one authcore counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds one authcore histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// Namespace prefixes every exported series.
const Namespace = "authcore"

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Logins that produced a token pair."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins that ended in the failed state."},
	{ID: authcore.MetricMFAChallengeIssued, Name: "authcore_mfa_challenge_issued_total", Help: "Logins that required a second factor."},
	{ID: authcore.MetricMFAVerifySuccess, Name: "authcore_mfa_verify_success_total", Help: "Accepted MFA codes."},
	{ID: authcore.MetricMFAVerifyFailure, Name: "authcore_mfa_verify_failure_total", Help: "Rejected MFA codes and expired challenges."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: authcore.MetricSessionInvalidated, Name: "authcore_session_invalidated_total", Help: "Sessions cleared by a 401 or 403."},
	{ID: authcore.MetricEnrollmentStarted, Name: "authcore_mfa_enrollment_started_total", Help: "MFA enrollment setups."},
	{ID: authcore.MetricEnrollmentFailure, Name: "authcore_mfa_enrollment_failure_total", Help: "Failed MFA enrollment steps."},
	{ID: authcore.MetricEnrollmentCompleted, Name: "authcore_mfa_enrollment_completed_total", Help: "Completed MFA enrollments."},
	{ID: authcore.MetricMFADisabled, Name: "authcore_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: authcore.MetricBackupCodesRegenerated, Name: "authcore_backup_codes_regenerated_total", Help: "Backup code regenerations."},
	{ID: authcore.MetricRoleMutation, Name: "authcore_role_mutation_total", Help: "Accepted role mutations."},
	{ID: authcore.MetricPermissionToggleReverted, Name: "authcore_permission_toggle_reverted_total", Help: "Optimistic permission toggles that were reverted."},
	{ID: authcore.MetricValidationRejected, Name: "authcore_validation_rejected_total", Help: "Inputs rejected before any network call."},
	{ID: authcore.MetricPolicyRejected, Name: "authcore_policy_rejected_total", Help: "Operations refused by a local policy."},
}

// HistogramDefs lists every histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricRequestLatency, Name: "authcore_request_latency_seconds", Help: "Collaborator round-trip latency."},
}

// AuditDroppedName is the counter for events lost to dispatcher backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// UpperBoundsSeconds converts authcore.HistogramBounds to seconds. The
// unbounded last bucket is not included.
func UpperBoundsSeconds() []float64 {
	out := make([]float64, len(authcore.HistogramBounds))
	for i, ms := range authcore.HistogramBounds {
		out[i] = ms / 1000
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// element is the total count.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(raw))
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}

// BoundSuffixes names each bucket for exporters without native histograms,
// e.g. "0_005". The last entry is "inf".
func BoundSuffixes() []string {
	bounds := UpperBoundsSeconds()
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}
