package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/prediction-tournament/internal/bootstrap"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/service"
	"go.uber.org/zap"
)

type scheduler struct {
	log        *zap.SugaredLogger
	wallet     *service.WalletService
	funding    *service.FundingService
	tournament *service.TournamentService
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, bootstrap.ConfigPath(), false)
	if err != nil {
		panic(err)
	}
	defer deps.Close()
	w, f, t := deps.Services()
	s := &scheduler{log: deps.Log, wallet: w, funding: f, tournament: t}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(deps.Config.Scheduler.MetricsAddr, mux); err != nil {
			deps.Log.Warnw("metrics listener", "err", err)
		}
	}()

	cfg := deps.Config.Scheduler
	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{"advance_states", cfg.StateInterval, s.advanceStates},
		{"expire_deposits", cfg.StateInterval, s.expireDeposits},
		{"update_rankings", cfg.RankingInterval, s.updateRankings},
		{"finalize", cfg.FinalizeInterval, s.finalize},
		{"integrity", cfg.IntegrityInterval, s.integrity},
		{"audit", cfg.AuditInterval, s.audit},
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(name string, every time.Duration, run func(context.Context) error) {
			defer wg.Done()
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				if err := run(ctx); err != nil && ctx.Err() == nil {
					s.log.Errorw("scheduled job failed", "job", name, "err", err)
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}(j.name, j.every, j.run)
	}
	s.log.Info("scheduler started")
	wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *scheduler) advanceStates(ctx context.Context) error {
	_, err := s.tournament.AdvanceStates(ctx, time.Now())
	return err
}

func (s *scheduler) expireDeposits(ctx context.Context) error {
	n, err := s.funding.ExpireDeposits(ctx, time.Now())
	if n > 0 {
		s.log.Infow("deposits expired", "count", n)
	}
	return err
}

func (s *scheduler) updateRankings(ctx context.Context) error {
	ts, err := s.tournament.ListByStatus(ctx, model.TournamentActive)
	if err != nil {
		return err
	}
	for _, t := range ts {
		if _, err := s.tournament.UpdateRankings(ctx, t.ID); err != nil {
			s.log.Warnw("ranking update failed", "tournament_id", t.ID, "err", err)
		}
	}
	return nil
}

func (s *scheduler) finalize(ctx context.Context) error {
	due, err := s.tournament.DueForFinalization(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, t := range due {
		// failures are logged by the service and retried on the next tick
		_, _ = s.tournament.FinalizeTournament(ctx, t.ID)
	}
	return nil
}

func (s *scheduler) integrity(ctx context.Context) error {
	ts, err := s.tournament.ListByStatus(ctx, model.TournamentRegistration, model.TournamentActive)
	if err != nil {
		return err
	}
	for _, t := range ts {
		if _, err := s.tournament.VerifyPrizePoolIntegrity(ctx, t.ID, true); err != nil {
			s.log.Warnw("integrity check failed", "tournament_id", t.ID, "err", err)
		}
	}
	return nil
}

func (s *scheduler) audit(ctx context.Context) error {
	bad, err := s.wallet.AuditAll(ctx, 200)
	if err != nil {
		return err
	}
	for _, r := range bad {
		s.log.Errorw("wallet ledger inconsistent", "wallet_id", r.WalletID,
			"stored", r.StoredBalance, "ledger", r.LedgerBalance, "breaks", r.Breaks)
	}
	return nil
}
