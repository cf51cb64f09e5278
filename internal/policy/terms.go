package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pickup-order-service/internal/models"
)

// RenderTerms produces the customer-facing cancellation terms from the
// active policies, so the published copy always matches what Evaluate does.
func RenderTerms(policies []models.CancellationPolicy) string {
	sorted := append([]models.CancellationPolicy(nil), policies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ServiceType < sorted[j].ServiceType })

	var b strings.Builder
	b.WriteString("Cancellation and rescheduling\n\n")
	b.WriteString("Laundry: pay after completion. Cancel or reschedule any time before pickup at no charge.\n")

	for _, p := range sorted {
		if p.ServiceType != models.ServiceCleaning || !p.Active {
			continue
		}
		fmt.Fprintf(&b, "\nCleaning (policy v%d):\n", p.Version)
		b.WriteString(termLine("Cancel", p.AllowCancel, p.NoticeHours, p.CancellationFeePct))
		b.WriteString(termLine("Reschedule", p.AllowReschedule, p.RescheduleNoticeHours, p.RescheduleFeePct))
	}
	return b.String()
}

func termLine(action string, allowed bool, noticeHours int, pct float64) string {
	switch {
	case !allowed:
		return fmt.Sprintf("- %s: not available online, contact support.\n", action)
	case noticeHours <= 0 || pct <= 0:
		return fmt.Sprintf("- %s: free at any time before the appointment.\n", action)
	}
	return fmt.Sprintf("- %s: free with at least %d hours notice; otherwise a fee of %s%% of the order amount applies.\n",
		action, noticeHours, strconv.FormatFloat(pct, 'f', -1, 64))
}
