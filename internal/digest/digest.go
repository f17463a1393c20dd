// Package digest composes and delivers daily and weekly rate summaries.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"somwatcher/internal/config"
	"somwatcher/internal/notify"
	"somwatcher/internal/rates"
	"somwatcher/internal/storage"
)

// Scheduler builds digests from the current snapshot and delivers them to
// opted-in users on their individual schedules.
type Scheduler struct {
	userStore storage.UserStore
	rateStore storage.RateStore
	notifier  notify.Notifier
	loc       *time.Location
	popular   []string
	topN      int
	logger    zerolog.Logger
}

// NewScheduler constructs the digest scheduler. popular lists the currency
// codes eligible for the digest in display order; topN bounds how many appear.
func NewScheduler(userStore storage.UserStore, rateStore storage.RateStore, notifier notify.Notifier, loc *time.Location, popular []string, topN int, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		userStore: userStore,
		rateStore: rateStore,
		notifier:  notifier,
		loc:       loc,
		popular:   popular,
		topN:      topN,
		logger:    logger.With().Str("component", "digest").Logger(),
	}
}

// RunDaily performs one minute-tick pass: users whose preferred time matches
// the current minute (with a one-minute backward tolerance for timer jitter)
// and who have not yet received today's digest get one. Returns how many
// digests were sent.
func (s *Scheduler) RunDaily(ctx context.Context, now time.Time) (int, error) {
	users, err := s.userStore.ListDailyDigestUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load daily digest users: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}

	local := now.In(s.loc)
	text, err := s.buildDigest(ctx, "Daily rates", local)
	if err != nil {
		return 0, err
	}
	if text == "" {
		return 0, nil
	}

	sent := 0
	for _, user := range users {
		if !s.timeMatches(user.DailyNotifyTime, local) {
			continue
		}
		if alreadySentToday(user.LastDailySent, local, s.loc) {
			continue
		}

		if err := s.notifier.Send(ctx, user.UserID, text); err != nil {
			s.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("daily digest delivery failed")
			continue
		}
		if err := s.userStore.MarkDailySent(ctx, user.UserID, now); err != nil {
			s.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("failed to stamp daily digest")
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info().Int("sent", sent).Msg("daily digests delivered")
	}
	return sent, nil
}

// RunWeekly delivers the weekly report to all opted-in users. The caller fires
// this at most once per week, so no idempotency stamp is needed.
func (s *Scheduler) RunWeekly(ctx context.Context, now time.Time) (int, error) {
	users, err := s.userStore.ListWeeklyReportUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load weekly report users: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}

	local := now.In(s.loc)
	text, err := s.buildDigest(ctx, "Weekly rate report", local)
	if err != nil {
		return 0, err
	}
	if text == "" {
		return 0, nil
	}

	sent := 0
	for _, user := range users {
		if err := s.notifier.Send(ctx, user.UserID, text); err != nil {
			s.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("weekly report delivery failed")
			continue
		}
		sent++
	}

	s.logger.Info().Int("sent", sent).Msg("weekly reports delivered")
	return sent, nil
}

// timeMatches reports whether a stored HH:MM preference matches the current
// minute or the one just past.
func (s *Scheduler) timeMatches(pref string, local time.Time) bool {
	hour, minute, err := config.ParseClock(pref)
	if err != nil {
		s.logger.Warn().Str("value", pref).Msg("unparseable daily notify time")
		return false
	}
	for _, candidate := range []time.Time{local, local.Add(-time.Minute)} {
		if candidate.Hour() == hour && candidate.Minute() == minute {
			return true
		}
	}
	return false
}

func alreadySentToday(last *time.Time, local time.Time, loc *time.Location) bool {
	if last == nil {
		return false
	}
	y1, m1, d1 := last.In(loc).Date()
	y2, m2, d2 := local.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// buildDigest renders the authoritative rates of the top popular currencies.
// Returns an empty string when the snapshot has none of them yet.
func (s *Scheduler) buildDigest(ctx context.Context, title string, local time.Time) (string, error) {
	quotes, err := s.rateStore.QueryCurrent(ctx, rates.OfficialBankCode, "")
	if err != nil {
		return "", fmt.Errorf("load official rates: %w", err)
	}

	byCode := make(map[string]storage.RateQuote, len(quotes))
	for _, q := range quotes {
		byCode[q.CurrencyCode] = q
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s (%s)\n", title, local.Format("02 Jan 2006"))

	lines := 0
	for _, code := range s.popular {
		if lines >= s.topN {
			break
		}
		q, ok := byCode[code]
		if !ok || q.OfficialRate == nil {
			continue
		}
		fmt.Fprintf(&b, "%s: %s som%s\n",
			code,
			humanize.Commaf(q.OfficialRate.InexactFloat64()),
			diffSuffix(q),
		)
		lines++
	}

	if lines == 0 {
		return "", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func diffSuffix(q storage.RateQuote) string {
	if q.Diff == nil || q.Diff.IsZero() {
		return ""
	}
	arrow := "▲"
	if q.Diff.IsNegative() {
		arrow = "▼"
	}
	return fmt.Sprintf(" %s %s", arrow, q.Diff.Abs().String())
}
