package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/skybattle/matchmaking-service/pkg/database"
)

var ErrPlayerNotFound = errors.New("player not found")

type RatingRepository struct {
	db *database.DB
}

func NewRatingRepository(db *database.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// GetRating player_stats에서 현재 ELO 조회
func (r *RatingRepository) GetRating(ctx context.Context, playerID string) (int, error) {
	query := `
		SELECT elo_rating
		FROM player_stats
		WHERE user_id = $1
	`

	var rating int
	err := r.db.QueryRowContext(ctx, query, playerID).Scan(&rating)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrPlayerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rating: %w", err)
	}

	return rating, nil
}

// StaticRatingProvider DB 없이 실행할 때 사용하는 고정 rating 제공자.
// overrides에 있는 플레이어는 해당 값을, 나머지는 defaultRating을 돌려준다.
type StaticRatingProvider struct {
	defaultRating int
	overrides     map[string]int
}

func NewStaticRatingProvider(defaultRating int, overrides map[string]int) *StaticRatingProvider {
	if overrides == nil {
		overrides = map[string]int{}
	}
	return &StaticRatingProvider{defaultRating: defaultRating, overrides: overrides}
}

func (p *StaticRatingProvider) GetRating(ctx context.Context, playerID string) (int, error) {
	if rating, ok := p.overrides[playerID]; ok {
		return rating, nil
	}
	return p.defaultRating, nil
}
