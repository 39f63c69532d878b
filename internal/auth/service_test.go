package auth

import (
	"context"
	"database/sql"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memochat/internal/config"
	"memochat/internal/redis"
	"memochat/internal/storage"
)

func TestValidateTokenErrors(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 1)
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	_, err := svc.ValidateToken(ctx, "")
	require.ErrorIs(t, err, ErrTokenRequired)

	_, err = svc.ValidateToken(ctx, "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	token, err := svc.IssueToken(ctx, 1)
	require.NoError(t, err)
	require.Len(t, token, 64)

	userID, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	require.EqualValues(t, 1, userID)

	require.NoError(t, svc.RevokeToken(ctx, token))
	_, err = svc.ValidateToken(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)

	// revoking twice is harmless
	require.NoError(t, svc.RevokeToken(ctx, token))
	require.NoError(t, svc.RevokeToken(ctx, ""))
}

func TestIssueTokenRejectsUnknownUserID(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, time.Hour)

	_, err := svc.IssueToken(context.Background(), 0)
	require.Error(t, err)
	_, err = svc.IssueToken(context.Background(), -3)
	require.Error(t, err)
}

func TestExpiredTokenIsPurged(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 2)
	svc := NewService(db, nil, 10*time.Millisecond)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 2)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = svc.ValidateToken(ctx, token)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.Zero(t, countTokens(t, db, `token = ?`, token))

	// once purged it is simply unknown
	_, err = svc.ValidateToken(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenTTL(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 3)

	require.Equal(t, 24*time.Hour, NewService(db, nil, 0).TokenTTL())
	require.Equal(t, 24*time.Hour, NewService(db, nil, -time.Minute).TokenTTL())

	svc := NewService(db, nil, 90*time.Minute)
	require.Equal(t, 90*time.Minute, svc.TokenTTL())

	before := time.Now().UTC()
	token, err := svc.IssueToken(context.Background(), 3)
	require.NoError(t, err)

	var expires time.Time
	require.NoError(t, db.QueryRow(`SELECT expires_at FROM user_tokens WHERE token = ?`, token).Scan(&expires))
	require.WithinDuration(t, before.Add(90*time.Minute), expires, 5*time.Second)
}

func TestRevokeUserTokensOnlyTouchesThatUser(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 4)
	insertUser(t, db, 5)
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	first, err := svc.IssueToken(ctx, 4)
	require.NoError(t, err)
	second, err := svc.IssueToken(ctx, 4)
	require.NoError(t, err)
	other, err := svc.IssueToken(ctx, 5)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeUserTokens(ctx, 4))
	for _, tok := range []string{first, second} {
		_, err := svc.ValidateToken(ctx, tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	}
	userID, err := svc.ValidateToken(ctx, other)
	require.NoError(t, err)
	require.EqualValues(t, 5, userID)

	require.NoError(t, svc.RevokeUserTokens(ctx, 0))
	require.Equal(t, 1, countTokens(t, db, `user_id = ?`, 5))
}

func TestCachedTokenSurvivesRowLossUntilRevoked(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 10)
	cache := newRedisCacheClient(t)
	svc := NewService(db, cache, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 10)
	require.NoError(t, err)
	got, err := cache.Get(ctx, redisTokenPrefix+token)
	require.NoError(t, err)
	require.Equal(t, "10", got)

	_, err = db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token)
	require.NoError(t, err)
	userID, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	require.EqualValues(t, 10, userID)

	require.NoError(t, svc.RevokeToken(ctx, token))
	_, err = cache.Get(ctx, redisTokenPrefix+token)
	require.ErrorIs(t, err, redis.ErrCacheMiss)
	_, err = svc.ValidateToken(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeUserTokensClearsCache(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 11)
	cache := newRedisCacheClient(t)
	svc := NewService(db, cache, time.Hour)
	ctx := context.Background()

	tokens := make([]string, 3)
	for i := range tokens {
		tok, err := svc.IssueToken(ctx, 11)
		require.NoError(t, err)
		tokens[i] = tok
	}

	require.NoError(t, svc.RevokeUserTokens(ctx, 11))
	for _, tok := range tokens {
		_, err := cache.Get(ctx, redisTokenPrefix+tok)
		require.ErrorIs(t, err, redis.ErrCacheMiss)
		_, err = svc.ValidateToken(ctx, tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestValidateTokenCachesRemainingLifetime(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 12)
	cache := newRedisCacheClient(t)
	svc := NewService(db, cache, 24*time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 12)
	require.NoError(t, err)
	key := redisTokenPrefix + token
	require.NoError(t, cache.Del(ctx, key))

	_, err = db.Exec(`UPDATE user_tokens SET expires_at = ? WHERE token = ?`, time.Now().UTC().Add(2*time.Minute), token)
	require.NoError(t, err)

	userID, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	require.EqualValues(t, 12, userID)

	ttl, err := cache.Raw().TTL(ctx, key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, 2*time.Minute)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return db
}

func insertUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, "user_"+strconv.FormatInt(id, 10), time.Now().UTC())
	require.NoError(t, err)
}

func countTokens(t *testing.T, db *sql.DB, where string, arg any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE `+where, arg).Scan(&n))
	return n
}

// newRedisCacheClient connects to TEST_REDIS_ADDR and flushes the selected db.
func newRedisCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.NewRedisClient(&config.Config{
		Redis: config.RedisConfig{Host: host, Port: port, DB: db},
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Raw().FlushDB(ctx).Err())
	return client
}
