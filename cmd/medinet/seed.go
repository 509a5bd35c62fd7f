package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/config"
	"github.com/medinet/medinet/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func seedCmd() *cobra.Command {
	var (
		doctors int
		days    int
		from    string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate slots for fake doctors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)
			if err := requirePostgres(cfg, "seed"); err != nil {
				return err
			}

			start := availability.DateOf(time.Now().In(cfg.Location)).AddDays(1)
			if from != "" {
				if start, err = availability.ParseDate(from); err != nil {
					return err
				}
			}
			if doctors <= 0 || days <= 0 {
				return fmt.Errorf("--doctors and --days must be positive")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			gofakeit.Seed(time.Now().UnixNano())
			return seedDoctors(ctx, a.store, logger, doctors, start, start.AddDays(days-1))
		},
	}

	cmd.Flags().IntVar(&doctors, "doctors", 20, "Number of doctors to generate")
	cmd.Flags().IntVar(&days, "days", 14, "Number of days of slots per doctor")
	cmd.Flags().StringVar(&from, "from", "", "First date (YYYY-MM-DD), defaults to tomorrow")
	return cmd
}

// requirePostgres rejects commands whose writes or reads only make sense
// against a database that outlives the process.
func requirePostgres(cfg config.Config, command string) error {
	if cfg.StorageDriver != config.DriverPostgres {
		return fmt.Errorf("%s needs STORAGE_DRIVER=postgres, got %s", command, cfg.StorageDriver)
	}
	return nil
}

// workingHours picks a random shift and slot length and returns the slot
// start times within it.
func workingHours() []availability.TimeOfDay {
	startHour := gofakeit.Number(7, 10)
	shiftHours := gofakeit.Number(4, 8)
	steps := []int{15, 20, 30, 45, 60}
	step := steps[gofakeit.Number(0, len(steps)-1)]

	var times []availability.TimeOfDay
	for m := startHour * 60; m+step <= (startHour+shiftHours)*60; m += step {
		times = append(times, availability.TimeOfDay(m*60))
	}
	return times
}

func seedDoctors(ctx context.Context, store *availability.Store, logger zerolog.Logger, count int, from, to availability.Date) error {
	logger.Info().Int("doctors", count).Str("from", from.String()).Str("to", to.String()).Msg("seeding slots")

	total := 0
	for i := 0; i < count; i++ {
		doctorID := uuid.New()
		times := workingHours()

		res, err := store.CreateSlotsBulk(ctx, doctorID, from, to, times)
		if err != nil {
			return fmt.Errorf("seed doctor %s: %w", doctorID, err)
		}
		total += res.Created

		logger.Info().
			Str("doctor_id", doctorID.String()).
			Str("name", "Dr. "+gofakeit.Name()).
			Str("specialty", specialties[gofakeit.Number(0, len(specialties)-1)]).
			Int("slots", res.Created).
			Msg("doctor seeded")
	}

	logger.Info().Int("slots", total).Msg("seed complete")
	return nil
}
