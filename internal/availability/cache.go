package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// fillScript writes the cache entry only if the generation read before the
// backing load is still current. KEYS[1] entry, KEYS[2] generation.
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// CachedStore is a Redis read-through cache in front of another Store.
// Cache failures degrade to the backing store. Each Replace bumps a
// per-faculty generation so a read that loaded the old template before the
// replace committed cannot write it back.
type CachedStore struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	return &CachedStore{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "availability_cache").Logger(),
	}
}

func cacheKey(facultyID uuid.UUID) string {
	return fmt.Sprintf("availability:%s", facultyID.String())
}

func generationKey(facultyID uuid.UUID) string {
	return fmt.Sprintf("availability:%s:gen", facultyID.String())
}

func (s *CachedStore) Get(ctx context.Context, facultyID uuid.UUID) (WeekTemplate, error) {
	key := cacheKey(facultyID)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var tpl WeekTemplate
		if jsonErr := json.Unmarshal(raw, &tpl); jsonErr == nil {
			return tpl, nil
		}
		s.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		s.logger.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
	}

	gen, genErr := s.generation(ctx, facultyID)

	tpl, err := s.next.Get(ctx, facultyID)
	if err != nil {
		return WeekTemplate{}, err
	}

	if genErr == nil {
		s.fill(ctx, facultyID, gen, tpl)
	}
	return tpl, nil
}

// Replace writes through and then invalidates; the next Get repopulates.
func (s *CachedStore) Replace(ctx context.Context, facultyID uuid.UUID, tpl WeekTemplate) (WeekTemplate, error) {
	saved, err := s.next.Replace(ctx, facultyID, tpl)
	if err != nil {
		return WeekTemplate{}, err
	}

	key := cacheKey(facultyID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(facultyID))
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("availability cache invalidate failed")
	}
	return saved, nil
}

func (s *CachedStore) generation(ctx context.Context, facultyID uuid.UUID) (string, error) {
	gen, err := s.client.Get(ctx, generationKey(facultyID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

func (s *CachedStore) fill(ctx context.Context, facultyID uuid.UUID, gen string, tpl WeekTemplate) {
	key := cacheKey(facultyID)
	payload, err := json.Marshal(tpl)
	if err != nil {
		return
	}
	keys := []string{key, generationKey(facultyID)}
	if err := fillScript.Run(ctx, s.client, keys, gen, payload, s.ttl.Milliseconds()).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
	}
}
