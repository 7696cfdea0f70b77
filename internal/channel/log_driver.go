package channel

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogDriver only logs writes. Used when no hardware is attached.
type LogDriver struct{}

func (LogDriver) Apply(_ context.Context, l Level) error {
	log.Info().Uint8("cw", l.CW).Uint8("ww", l.WW).Msg("Updating light")
	return nil
}
