package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/medinet/medinet/internal/config"
	"github.com/medinet/medinet/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	Patients        int
	SlotLimit       int
}

var consultationTypes = []string{"Consulta", "Retorno", "Exame", "Check-up", "Teleconsulta"}

type slotRef struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
}

type apptRef struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
}

type DataPool struct {
	Patients     []uuid.UUID
	Slots        []slotRef
	byDoctor     map[uuid.UUID][]slotRef
	mu           sync.RWMutex
	appointments []apptRef
}

func (dp *DataPool) AddAppointment(a apptRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (apptRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return apptRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	avg = sum / time.Duration(n)
	min = latencies[0]
	max = latencies[n-1]
	p50 = latencies[min2(n*50/100, n-1)]
	p95 = latencies[min2(n*95/100, n-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Booking       OperationMetrics
	Reschedule    OperationMetrics
	Cancel        OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	ListOpenSlots OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func simulateCmd() *cobra.Command {
	var sc SimConfig

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive concurrent booking traffic against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)
			if err := requirePostgres(cfg, "simulate"); err != nil {
				return err
			}
			if sc.Workers <= 0 || sc.Duration <= 0 {
				return fmt.Errorf("--workers and --duration must be positive")
			}
			normalizeRatios(&sc)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pgPool, err := connectPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pgPool.Close()

			dataPool, err := loadDataPool(ctx, pgPool, sc)
			if err != nil {
				return fmt.Errorf("load data pool: %w", err)
			}
			logger.Info().
				Int("patients", len(dataPool.Patients)).
				Int("slots", len(dataPool.Slots)).
				Int("doctors", len(dataPool.byDoctor)).
				Msg("data pool loaded")

			sim := &Simulator{
				config: sc,
				pool:   dataPool,
				client: &http.Client{Timeout: 10 * time.Second},
			}
			logger.Info().Dur("duration", sc.Duration).Int("workers", sc.Workers).Msg("starting simulation")
			sim.Run(cmd.Context())
			sim.PrintReport()
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&sc.APIBaseURL, "api-url", "http://localhost:8080", "Base URL of the API server")
	f.DurationVar(&sc.Duration, "duration", 30*time.Second, "How long to run")
	f.IntVar(&sc.Workers, "workers", 10, "Concurrent workers")
	f.Float64Var(&sc.BookingRatio, "booking-ratio", 0.4, "Share of booking requests")
	f.Float64Var(&sc.RescheduleRatio, "reschedule-ratio", 0.1, "Share of reschedule requests")
	f.Float64Var(&sc.CancelRatio, "cancel-ratio", 0.1, "Share of cancel requests")
	f.Float64Var(&sc.ReadRatio, "read-ratio", 0.4, "Share of read requests")
	f.IntVar(&sc.Patients, "patients", 500, "Number of distinct fake patients")
	f.IntVar(&sc.SlotLimit, "slot-limit", 2000, "Maximum open slots to target")
	return cmd
}

func normalizeRatios(sc *SimConfig) {
	total := sc.BookingRatio + sc.RescheduleRatio + sc.CancelRatio + sc.ReadRatio
	if total > 0 {
		sc.BookingRatio /= total
		sc.RescheduleRatio /= total
		sc.CancelRatio /= total
		sc.ReadRatio /= total
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, sc SimConfig) (*DataPool, error) {
	dataPool := &DataPool{byDoctor: make(map[uuid.UUID][]slotRef)}

	for i := 0; i < sc.Patients; i++ {
		dataPool.Patients = append(dataPool.Patients, uuid.New())
	}

	rows, err := pool.Query(ctx, `
		SELECT doctor_id, slot_date::text, slot_time::text
		FROM slots
		WHERE is_open AND slot_date > current_date
		ORDER BY random()
		LIMIT $1
	`, sc.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s slotRef
		if err := rows.Scan(&s.DoctorID, &s.Date, &s.Time); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, s)
		dataPool.byDoctor[s.DoctorID] = append(dataPool.byDoctor[s.DoctorID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients generated")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open future slots, run seed first")
	}
	return dataPool, nil
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < c.BookingRatio+c.RescheduleRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doListOpenSlots(ctx, rng)
			}
		}
	}
}

// call performs one request and decodes a JSON body into out when given.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency, nil
}

// record drops requests cut short by the end of the run.
func record(ctx context.Context, om *OperationMetrics, status int, latency time.Duration, err error) {
	if ctx.Err() != nil {
		return
	}
	om.Record(latency, status, err)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body := map[string]any{
		"doctor_id":  slot.DoctorID.String(),
		"patient_id": patientID.String(),
		"date":       slot.Date,
		"time":       slot.Time,
		"type":       consultationTypes[gofakeit.Number(0, len(consultationTypes)-1)],
		"notes":      "Referred by " + gofakeit.Name(),
	}

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", body, &resp)
	if err == nil && status == http.StatusCreated && resp.ID != uuid.Nil {
		s.pool.AddAppointment(apptRef{ID: resp.ID, DoctorID: slot.DoctorID})
	}
	record(ctx, &s.metrics.Booking, status, latency, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	candidates := s.pool.byDoctor[appt.DoctorID]
	target := candidates[rng.Intn(len(candidates))]

	body := map[string]string{"date": target.Date, "time": target.Time}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule", body, nil)
	record(ctx, &s.metrics.Reschedule, status, latency, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, nil)
	record(ctx, &s.metrics.Cancel, status, latency, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodGet, "/appointments/"+appt.ID.String(), nil, nil)
	record(ctx, &s.metrics.ReadByID, status, latency, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	path := fmt.Sprintf("/appointments?patient_id=%s&limit=20&offset=0", patientID)
	status, latency, err := s.call(ctx, http.MethodGet, path, nil, nil)
	record(ctx, &s.metrics.ListByPatient, status, latency, err)
}

func (s *Simulator) doListOpenSlots(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	path := fmt.Sprintf("/doctors/%s/slots?date=%s&open=true", slot.DoctorID, slot.Date)
	status, latency, err := s.call(ctx, http.MethodGet, path, nil, nil)
	record(ctx, &s.metrics.ListOpenSlots, status, latency, err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("List open slots", &s.metrics.ListOpenSlots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
