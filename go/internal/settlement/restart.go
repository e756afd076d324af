package settlement

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/models"
)

// RoundCreator opens a new round.
type RoundCreator interface {
	CreateNextRound(ctx context.Context, prev *models.Round) (*models.Round, error)
}

// RestartHook opens the next round of the same game with the same capacity
// and entry fee once a round settles.
func RestartHook(creator RoundCreator) Hook {
	return func(ctx context.Context, round *models.Round) {
		next, err := creator.CreateNextRound(ctx, round)
		if err != nil {
			log.Error().Err(err).
				Int64("round_id", round.ID).
				Int64("game_id", round.GameID).
				Msg("failed to open next round")
			return
		}
		log.Info().
			Int64("round_id", next.ID).
			Int64("previous_round_id", round.ID).
			Int64("game_id", round.GameID).
			Msg("opened next round")
	}
}
