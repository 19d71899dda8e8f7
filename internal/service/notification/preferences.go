package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository"
)

// PreferenceStore is a read-through cache over the preference
// repository. Preferences change rarely and are read on every compose.
type PreferenceStore struct {
	repo  repository.PreferenceRepository
	cache *gocache.Cache
}

func NewPreferenceStore(repo repository.PreferenceRepository, ttl time.Duration) *PreferenceStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PreferenceStore{
		repo:  repo,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Channels returns the user's usable channels: enabled and verified.
func (s *PreferenceStore) Channels(ctx context.Context, userID uuid.UUID) (map[model.Channel]*model.ChannelPreference, error) {
	cacheKey := "channels:" + userID.String()
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(map[model.Channel]*model.ChannelPreference), nil
	}

	prefs, err := s.repo.ListChannels(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel preferences: %w", err)
	}

	usable := make(map[model.Channel]*model.ChannelPreference)
	for _, p := range prefs {
		if p.Enabled && p.Verified {
			usable[p.Channel] = p
		}
	}

	s.cache.Set(cacheKey, usable, gocache.DefaultExpiration)
	return usable, nil
}

func (s *PreferenceStore) QuietHours(ctx context.Context, userID uuid.UUID) (*model.QuietHours, error) {
	cacheKey := "quiet:" + userID.String()
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(*model.QuietHours), nil
	}

	qh, err := s.repo.GetQuietHours(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quiet hours: %w", err)
	}

	s.cache.Set(cacheKey, qh, gocache.DefaultExpiration)
	return qh, nil
}

// Invalidate drops cached entries for a user after a preference change.
func (s *PreferenceStore) Invalidate(userID uuid.UUID) {
	s.cache.Delete("channels:" + userID.String())
	s.cache.Delete("quiet:" + userID.String())
}

// InQuietHours reports whether now falls inside the user's quiet
// window. Windows may wrap midnight (e.g. 22:00-07:00).
func InQuietHours(qh *model.QuietHours, now time.Time) bool {
	if qh == nil || !qh.Enabled {
		return false
	}

	loc := time.UTC
	if qh.Timezone != "" {
		if l, err := time.LoadLocation(qh.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	start, ok1 := minutesOfDay(qh.StartHHMM)
	end, ok2 := minutesOfDay(qh.EndHHMM)
	if !ok1 || !ok2 || start == end {
		return false
	}

	cur := local.Hour()*60 + local.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	// Wraps midnight.
	return cur >= start || cur < end
}

func minutesOfDay(hhmm string) (int, bool) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
