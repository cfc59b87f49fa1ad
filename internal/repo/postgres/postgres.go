package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/entity"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/repo"
)

const uniqueViolation = "23505"

type Storage struct {
	db *sql.DB
}

func New(postgresURL string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveVote inserts a vote for (userID, pollID). The unique constraint on
// (poll_id, user_id) is the arbiter for the one-vote rule: a concurrent
// duplicate fails at commit time and is reported as repo.ErrAlreadyVoted.
// There is deliberately no prior existence check here.
func (s *Storage) SaveVote(ctx context.Context, userID string, pollID, optionID int64) (entity.Vote, error) {
	const op = "storage.postgres.SaveVote"

	query := `INSERT INTO votes (id, user_id, poll_id, option_id) VALUES ($1, $2, $3, $4) RETURNING voted_at`

	vote := entity.Vote{
		ID:       uuid.New(),
		UserID:   userID,
		PollID:   pollID,
		OptionID: optionID,
	}

	err := s.db.QueryRowContext(ctx, query, vote.ID, userID, pollID, optionID).Scan(&vote.VotedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return entity.Vote{}, fmt.Errorf("%s: %w", op, repo.ErrAlreadyVoted)
		}
		return entity.Vote{}, fmt.Errorf("%s: %w", op, err)
	}

	return vote, nil
}

func (s *Storage) GetPollByID(ctx context.Context, id int64) (entity.Poll, error) {
	const op = "storage.postgres.GetPollByID"

	query := `SELECT id, title, description, category, creator_id, ward_id, status, created_at FROM polls WHERE id = $1`

	var poll entity.Poll
	err := s.db.QueryRowContext(ctx, query, id).Scan(&poll.ID, &poll.Title, &poll.Description, &poll.Category, &poll.CreatorID, &poll.WardID, &poll.Status, &poll.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Poll{}, fmt.Errorf("%s: %w", op, repo.ErrPollNotFound)
		}
		return entity.Poll{}, fmt.Errorf("%s: %w", op, err)
	}

	return poll, nil
}

func (s *Storage) GetPollsByWardID(ctx context.Context, wardID int64) ([]entity.Poll, error) {
	const op = "storage.postgres.GetPollsByWardID"

	query := `SELECT id, title, description, category, creator_id, ward_id, status, created_at FROM polls WHERE ward_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, wardID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var polls []entity.Poll
	for rows.Next() {
		var poll entity.Poll
		if err := rows.Scan(&poll.ID, &poll.Title, &poll.Description, &poll.Category, &poll.CreatorID, &poll.WardID, &poll.Status, &poll.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		polls = append(polls, poll)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return polls, nil
}

func (s *Storage) GetOptionsByPollID(ctx context.Context, pollID int64) ([]entity.Option, error) {
	const op = "storage.postgres.GetOptionsByPollID"

	query := `SELECT id, poll_id, text, position FROM options WHERE poll_id = $1 ORDER BY position, id`

	rows, err := s.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var options []entity.Option
	for rows.Next() {
		var option entity.Option
		if err := rows.Scan(&option.ID, &option.PollID, &option.Text, &option.Position); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		options = append(options, option)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return options, nil
}

// CountVotesByOption returns the per-option vote counts for a poll, read
// from the votes table at call time. Options without votes are absent from
// the result; the aggregator zero-fills them.
func (s *Storage) CountVotesByOption(ctx context.Context, pollID int64) (map[int64]int64, error) {
	const op = "storage.postgres.CountVotesByOption"

	query := `SELECT option_id, COUNT(*) FROM votes WHERE poll_id = $1 GROUP BY option_id`

	rows, err := s.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var optionID, count int64
		if err := rows.Scan(&optionID, &count); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		counts[optionID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return counts, nil
}

func (s *Storage) GetWards(ctx context.Context) ([]entity.Ward, error) {
	const op = "storage.postgres.GetWards"

	query := `SELECT id, name, boundary FROM wards ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var wards []entity.Ward
	for rows.Next() {
		var ward entity.Ward
		var boundary []byte
		if err := rows.Scan(&ward.ID, &ward.Name, &boundary); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		if err := json.Unmarshal(boundary, &ward.Boundary); err != nil {
			return nil, fmt.Errorf("%s: decode boundary for ward %d: %w", op, ward.ID, err)
		}
		wards = append(wards, ward)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return wards, nil
}
