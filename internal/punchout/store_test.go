package punchout_test

import (
	"context"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/cxml"
	"github.com/noah-isme/backend-punchout/internal/orderdoc"
	"github.com/noah-isme/backend-punchout/internal/punchout"
)

func TestStoresRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stores := map[string]punchout.Store{
		"memory": punchout.NewMemoryStore(),
		"redis":  punchout.NewRedisStore(client, time.Hour),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token, err := punchout.NewToken()
			require.NoError(t, err)
			preparedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
			sess := punchout.Session{
				Token:       token,
				BuyerDomain: "NetworkID",
				BuyerCookie: "cookie",
				State:       punchout.StateCartPrepared,
				CreatedAt:   preparedAt,
				ExpiresAt:   time.Now().Add(time.Hour).UTC().Truncate(time.Second),
				PreparedAt:  &preparedAt,
				Shipping:    &orderdoc.ShippingForm{RequestedDeliveryDate: "2025-03-15"},
			}

			_, err = store.Get(ctx, token)
			require.ErrorIs(t, err, punchout.ErrSessionNotFound)

			require.NoError(t, store.Put(ctx, sess))
			got, err := store.Get(ctx, token)
			require.NoError(t, err)
			require.Equal(t, sess.State, got.State)
			require.Equal(t, "cookie", got.BuyerCookie)
			require.True(t, got.PreparedAt.Equal(preparedAt))
			require.Equal(t, "2025-03-15", got.Shipping.RequestedDeliveryDate)

			var seen []string
			require.NoError(t, store.Scan(ctx, func(s punchout.Session) error {
				seen = append(seen, s.Token)
				return nil
			}))
			require.Equal(t, []string{token}, seen)

			require.NoError(t, store.Delete(ctx, token))
			_, err = store.Get(ctx, token)
			require.ErrorIs(t, err, punchout.ErrSessionNotFound)
		})
	}
}

func TestRedisStoreKeepsSessionsThroughRetention(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := punchout.NewRedisStore(client, 24*time.Hour)
	token, err := punchout.NewToken()
	require.NoError(t, err)
	sess := punchout.Session{Token: token, State: punchout.StateActive, ExpiresAt: time.Now().Add(8 * time.Hour)}
	require.NoError(t, store.Put(context.Background(), sess))

	ttl := mr.TTL("punchout:session:" + token)
	require.Greater(t, ttl, 31*time.Hour)
	require.LessOrEqual(t, ttl, 32*time.Hour)
}

func TestCredentialsVerify(t *testing.T) {
	hash, err := argon2id.CreateHash("s3cret", testParams)
	require.NoError(t, err)
	creds := punchout.NewCredentials([]punchout.Credential{{Domain: "NetworkID", Identity: "AN-BUYER", SecretHash: hash}})

	require.True(t, creds.Verify("NetworkID", "AN-BUYER", "s3cret"))
	require.True(t, creds.Verify(" networkid ", "AN-BUYER", "s3cret"))
	require.False(t, creds.Verify("NetworkID", "an-buyer", "s3cret"))
	require.False(t, creds.Verify("NetworkID", "AN-BUYER", "S3CRET"))
	require.False(t, creds.Verify("DUNS", "AN-BUYER", "s3cret"))

	var empty *punchout.Credentials
	require.False(t, empty.Verify("NetworkID", "AN-BUYER", "s3cret"))
}

func TestCredentialsAuthenticateResolvesBuyer(t *testing.T) {
	hash, err := argon2id.CreateHash("s3cret", testParams)
	require.NoError(t, err)
	network := cxml.Identity{Domain: "NetworkID", Identity: "AN-NETWORK"}
	plant := cxml.Identity{Domain: "DUNS", Identity: "PLANT-1"}
	creds := punchout.NewCredentials([]punchout.Credential{{
		Domain:     network.Domain,
		Identity:   network.Identity,
		SecretHash: hash,
		OnBehalfOf: []cxml.Identity{plant},
	}})

	buyer, ok := creds.Authenticate(network, cxml.Identity{}, "s3cret")
	require.True(t, ok)
	require.Equal(t, network, buyer)

	buyer, ok = creds.Authenticate(network, network, "s3cret")
	require.True(t, ok)
	require.Equal(t, network, buyer)

	buyer, ok = creds.Authenticate(network, plant, "s3cret")
	require.True(t, ok)
	require.Equal(t, plant, buyer)

	_, ok = creds.Authenticate(network, plant, "wrong")
	require.False(t, ok)
	_, ok = creds.Authenticate(network, cxml.Identity{Domain: "DUNS", Identity: "PLANT-2"}, "s3cret")
	require.False(t, ok)
}

func TestTokensAreUniqueAndURLSafe(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		token, err := punchout.NewToken()
		require.NoError(t, err)
		require.Len(t, token, 43)
		require.NotContains(t, token, "+")
		require.NotContains(t, token, "/")
		require.NotContains(t, token, "=")
		_, dup := seen[token]
		require.False(t, dup)
		seen[token] = struct{}{}
	}
	require.Len(t, punchout.TokenDigest("abc"), 64)
}

func TestStateMachineTransitions(t *testing.T) {
	require.True(t, punchout.StateTransferred.Terminal())
	require.True(t, punchout.StateExpired.Terminal())
	require.True(t, punchout.StateRejected.Terminal())
	require.False(t, punchout.StateActive.Terminal())
	require.False(t, punchout.StateCartPrepared.Terminal())

	err := error(&punchout.StateError{Current: punchout.StateActive, Target: punchout.StateTransferred})
	require.ErrorIs(t, err, punchout.ErrInvalidState)
	require.Contains(t, err.Error(), "ACTIVE")
	require.Contains(t, err.Error(), "TRANSFERRED")
}
