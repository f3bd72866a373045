package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const DefaultClearSchedule = "0 23 * * *"

// Housekeeper periodically drops terminal jobs from the manager.
type Housekeeper struct {
	cron *cron.Cron
}

// StartHousekeeping runs ocr.Clear on the given cron schedule (five fields).
func StartHousekeeping(schedule string, ocr *OcrService) (*Housekeeper, error) {
	if schedule == "" {
		schedule = DefaultClearSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { ocr.Clear() }); err != nil {
		return nil, fmt.Errorf("housekeeping schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Info().Str("schedule", schedule).Msg("housekeeping started")
	return &Housekeeper{cron: c}, nil
}

// Stop prevents new runs and waits for a running one until ctx is done.
func (h *Housekeeper) Stop(ctx context.Context) {
	done := h.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
