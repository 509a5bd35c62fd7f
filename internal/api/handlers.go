package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/booking"
)

func createAppointmentHandler(rec *booking.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
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

		appt, err := rec.Book(r.Context(), booking.BookRequest{
			DoctorID:  uuid.MustParse(req.DoctorID),
			PatientID: uuid.MustParse(req.PatientID),
			Date:      date,
			Time:      tod,
			Type:      req.Type,
			Notes:     req.Notes,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, appointmentResponse(appt))
	}
}

func getAppointmentHandler(rec *booking.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		appt, err := rec.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

// listAppointmentsHandler serves ?patient_id= or ?doctor_id=[&date=], with
// optional limit and offset.
func listAppointmentsHandler(rec *booking.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		var (
			list []booking.AppointmentDetail
			err  error
		)
		switch {
		case q.Get("patient_id") != "":
			patientID, perr := uuid.Parse(q.Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a valid UUID")
				return
			}
			list, err = rec.ListByPatient(r.Context(), patientID, limit, offset)
		case q.Get("doctor_id") != "":
			doctorID, perr := uuid.Parse(q.Get("doctor_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "doctor_id must be a valid UUID")
				return
			}
			var date *availability.Date
			if s := q.Get("date"); s != "" {
				d, derr := availability.ParseDate(s)
				if derr != nil {
					writeDomainError(w, r, derr)
					return
				}
				date = &d
			}
			list, err = rec.ListByDoctor(r.Context(), doctorID, date, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "patient_id or doctor_id is required")
			return
		}
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			out = append(out, appointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func rescheduleAppointmentHandler(rec *booking.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		var req RescheduleRequest
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

		appt, err := rec.Reschedule(r.Context(), id, date, tod)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

// transitionHandler serves the body-less state transitions (cancel, no-show).
func transitionHandler(fn func(r *http.Request, id uuid.UUID) (*booking.AppointmentDetail, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		appt, err := fn(r, id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func cancelAppointmentHandler(rec *booking.Reconciler) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*booking.AppointmentDetail, error) {
		return rec.Cancel(r.Context(), id)
	})
}

func noShowAppointmentHandler(rec *booking.Reconciler) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*booking.AppointmentDetail, error) {
		return rec.MarkNoShow(r.Context(), id)
	})
}
