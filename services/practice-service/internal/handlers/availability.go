package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/practicecore/libs/httpx"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/availability"
)

const defaultSlotStep = 15 * time.Minute

type availabilityResponse struct {
	StaffID    string                `json:"staff_id"`
	LocationID string                `json:"location_id"`
	Duration   string                `json:"duration"`
	// Mode is "windows" or "slots".
	Mode  string                `json:"mode"`
	Items []availability.Window `json:"items"`
}

// Availability answers GET /availability?staffId&locationId&serviceId&from&to.
// slots=1 switches from free windows to bookable slots every step minutes;
// limit caps the number of items returned.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		badRequest(w, "from must be RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		badRequest(w, "to must be RFC3339")
		return
	}
	query := availability.Query{
		StaffID:    strings.TrimSpace(q.Get("staffId")),
		LocationID: strings.TrimSpace(q.Get("locationId")),
		ServiceID:  strings.TrimSpace(q.Get("serviceId")),
		From:       from,
		To:         to,
	}
	if query.StaffID == "" || query.LocationID == "" {
		badRequest(w, "staffId and locationId are required")
		return
	}
	if v := q.Get("durationMinutes"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil || mins <= 0 {
			badRequest(w, "durationMinutes must be a positive integer")
			return
		}
		query.Duration = time.Duration(mins) * time.Minute
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
	}

	seq, err := h.Resolver.FreeSlots(r.Context(), p.Org, query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := availabilityResponse{
		StaffID:    query.StaffID,
		LocationID: query.LocationID,
		Duration:   seq.Duration().String(),
	}
	if q.Get("slots") == "1" || q.Get("slots") == "true" {
		step := defaultSlotStep
		if v := q.Get("step"); v != "" {
			mins, err := strconv.Atoi(v)
			if err != nil || mins <= 0 {
				badRequest(w, "step must be a positive number of minutes")
				return
			}
			step = time.Duration(mins) * time.Minute
		}
		resp.Mode, resp.Items = "slots", availability.Take(seq.Slots(step), limit)
	} else {
		resp.Mode, resp.Items = "windows", availability.Take(seq.Windows(), limit)
	}
	if resp.Items == nil {
		resp.Items = []availability.Window{}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
