package api

import (
	"net/http"
	"strconv"

	"github.com/medinet/medinet/internal/availability"
)

func createSlotHandler(store *availability.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		var req CreateSlotRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, r, err)
			return
		}
		date, err := availability.ParseDate(req.Date)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		tod, err := availability.ParseTimeOfDay(req.Time)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		slot, err := store.CreateSlot(r.Context(), doctorID, date, tod)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, slotResponse(*slot))
	}
}

func bulkSlotsHandler(store *availability.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		var req BulkSlotsRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, r, err)
			return
		}
		from, err := availability.ParseDate(req.From)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		to, err := availability.ParseDate(req.To)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		times := make([]availability.TimeOfDay, 0, len(req.Times))
		for _, s := range req.Times {
			tod, err := availability.ParseTimeOfDay(s)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			times = append(times, tod)
		}

		res, err := store.CreateSlotsBulk(r.Context(), doctorID, from, to, times)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, bulkResponse(res))
	}
}

func listSlotsHandler(store *availability.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "doctorID")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		q := r.URL.Query()
		var date *availability.Date
		if s := q.Get("date"); s != "" {
			d, err := availability.ParseDate(s)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			date = &d
		}
		openOnly := false
		if s := q.Get("open"); s != "" {
			if openOnly, err = strconv.ParseBool(s); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "open must be a boolean")
				return
			}
		}

		var slots []availability.Slot
		if openOnly {
			slots, err = store.ListOpenSlots(r.Context(), doctorID, date)
		} else {
			slots, err = store.ListSlots(r.Context(), doctorID, date)
		}
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slotResponses(slots))
	}
}

func getSlotHandler(store *availability.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		slot, err := store.GetSlot(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slotResponse(*slot))
	}
}

func updateSlotHandler(store *availability.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		var req UpdateSlotRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, r, err)
			return
		}

		var date *availability.Date
		if req.Date != nil {
			d, err := availability.ParseDate(*req.Date)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			date = &d
		}
		var tod *availability.TimeOfDay
		if req.Time != nil {
			t, err := availability.ParseTimeOfDay(*req.Time)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			tod = &t
		}

		slot, err := store.UpdateSlot(r.Context(), id, date, tod)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slotResponse(*slot))
	}
}

func deleteSlotHandler(store *availability.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if err := store.DeleteSlot(r.Context(), id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
