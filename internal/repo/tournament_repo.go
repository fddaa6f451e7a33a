package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TournamentStore interface {
	CreateTournament(ctx context.Context, tx *gorm.DB, t *model.Tournament) error
	GetTournament(ctx context.Context, id string) (*model.Tournament, error)
	GetTournamentForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Tournament, error)
	ReadTournament(ctx context.Context, tx *gorm.DB, id string) (*model.Tournament, error)
	UpdateTournament(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
	ListTournaments(ctx context.Context, statuses []model.TournamentStatus) ([]model.Tournament, error)

	CreateEntry(ctx context.Context, tx *gorm.DB, e *model.TournamentEntry) error
	GetEntry(ctx context.Context, id string) (*model.TournamentEntry, error)
	GetEntryForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.TournamentEntry, error)
	FindEntry(ctx context.Context, tx *gorm.DB, tournamentID, userID string) (*model.TournamentEntry, error)
	ListEntries(ctx context.Context, tx *gorm.DB, tournamentID string, statuses ...model.EntryState) ([]model.TournamentEntry, error)
	LockEntries(ctx context.Context, tx *gorm.DB, tournamentID string, statuses ...model.EntryState) ([]model.TournamentEntry, error)
	UpdateEntry(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error

	CreatePrediction(ctx context.Context, tx *gorm.DB, p *model.TournamentPrediction) error
	GetPrediction(ctx context.Context, tx *gorm.DB, id string) (*model.TournamentPrediction, error)
	GetPredictionForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.TournamentPrediction, error)
	ListPredictions(ctx context.Context, tx *gorm.DB, entryID string) ([]model.TournamentPrediction, error)
	CountUnsettled(ctx context.Context, tx *gorm.DB, tournamentID string) (int64, error)
	SumBuyIns(ctx context.Context, tx *gorm.DB, tournamentID string) (decimal.Decimal, error)
	UpdatePrediction(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
}

func (r *Repository) CreateTournament(ctx context.Context, tx *gorm.DB, t *model.Tournament) error {
	return tx.WithContext(ctx).Create(t).Error
}

func (r *Repository) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	return getByID[model.Tournament](ctx, r.db, "tournament", id)
}

// GetTournamentForUpdate locks tournament row.
func (r *Repository) GetTournamentForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Tournament, error) {
	return lockByID[model.Tournament](ctx, tx, "tournament", id)
}

// ReadTournament reads through tx without taking a lock.
func (r *Repository) ReadTournament(ctx context.Context, tx *gorm.DB, id string) (*model.Tournament, error) {
	return getByID[model.Tournament](ctx, tx, "tournament", id)
}

func (r *Repository) UpdateTournament(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return updateGuarded(ctx, tx, &model.Tournament{}, updates, "id = ?", id)
}

func (r *Repository) ListTournaments(ctx context.Context, statuses []model.TournamentStatus) ([]model.Tournament, error) {
	var out []model.Tournament
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("start_time").Find(&out).Error
	return out, err
}

func (r *Repository) CreateEntry(ctx context.Context, tx *gorm.DB, e *model.TournamentEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

func (r *Repository) GetEntry(ctx context.Context, id string) (*model.TournamentEntry, error) {
	return getByID[model.TournamentEntry](ctx, r.db, "tournament entry", id)
}

func (r *Repository) GetEntryForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.TournamentEntry, error) {
	return lockByID[model.TournamentEntry](ctx, tx, "tournament entry", id)
}

// FindEntry returns the user's entry in a tournament, or nil.
func (r *Repository) FindEntry(ctx context.Context, tx *gorm.DB, tournamentID, userID string) (*model.TournamentEntry, error) {
	var e model.TournamentEntry
	err := tx.WithContext(ctx).Where("tournament_id = ? AND user_id = ?", tournamentID, userID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntries returns a tournament's entries in entry order, optionally
// filtered by status.
func (r *Repository) ListEntries(ctx context.Context, tx *gorm.DB, tournamentID string, statuses ...model.EntryState) ([]model.TournamentEntry, error) {
	return listEntries(tx.WithContext(ctx), tournamentID, statuses)
}

// LockEntries is ListEntries with every returned row locked for tx.
func (r *Repository) LockEntries(ctx context.Context, tx *gorm.DB, tournamentID string, statuses ...model.EntryState) ([]model.TournamentEntry, error) {
	return listEntries(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), tournamentID, statuses)
}

func listEntries(q *gorm.DB, tournamentID string, statuses []model.EntryState) ([]model.TournamentEntry, error) {
	q = q.Where("tournament_id = ?", tournamentID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []model.TournamentEntry
	err := q.Order("entry_time asc, id asc").Find(&out).Error
	return out, err
}

// SumBuyIns totals the buy-ins paid by every entry of a tournament.
func (r *Repository) SumBuyIns(ctx context.Context, tx *gorm.DB, tournamentID string) (decimal.Decimal, error) {
	var paid []decimal.Decimal
	err := tx.WithContext(ctx).Model(&model.TournamentEntry{}).
		Where("tournament_id = ?", tournamentID).
		Pluck("buy_in_paid", &paid).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, paid...), nil
}

func (r *Repository) UpdateEntry(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return updateGuarded(ctx, tx, &model.TournamentEntry{}, updates, "id = ?", id)
}

func (r *Repository) CreatePrediction(ctx context.Context, tx *gorm.DB, p *model.TournamentPrediction) error {
	return tx.WithContext(ctx).Create(p).Error
}

func (r *Repository) GetPrediction(ctx context.Context, tx *gorm.DB, id string) (*model.TournamentPrediction, error) {
	return getByID[model.TournamentPrediction](ctx, tx, "prediction", id)
}

func (r *Repository) GetPredictionForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.TournamentPrediction, error) {
	return lockByID[model.TournamentPrediction](ctx, tx, "prediction", id)
}

// ListPredictions returns an entry's picks in sequence order.
func (r *Repository) ListPredictions(ctx context.Context, tx *gorm.DB, entryID string) ([]model.TournamentPrediction, error) {
	var out []model.TournamentPrediction
	err := tx.WithContext(ctx).Where("entry_id = ?", entryID).Order("sequence_number asc").Find(&out).Error
	return out, err
}

// CountUnsettled counts PENDING picks of a tournament's active entries.
func (r *Repository) CountUnsettled(ctx context.Context, tx *gorm.DB, tournamentID string) (int64, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.TournamentPrediction{}).
		Joins("JOIN tournament_entries ON tournament_entries.id = tournament_predictions.entry_id").
		Where("tournament_predictions.tournament_id = ? AND tournament_predictions.result = ? AND tournament_entries.status = ?",
			tournamentID, model.ResultPending, model.EntryActive).
		Count(&n).Error
	return n, err
}

func (r *Repository) UpdatePrediction(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return updateGuarded(ctx, tx, &model.TournamentPrediction{}, updates, "id = ?", id)
}
