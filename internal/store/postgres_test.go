package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gordonpn/studio-site/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func newTestPostgres(t *testing.T) (*Postgres, *pgxpool.Pool) {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Skipf("Skipping integration test: Postgres not available (%v)", err)
	}

	repository := NewPostgres(pool)
	require.NoError(t, repository.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE leads, newsletter_subscribers, posts, admin_push_subscriptions`)
	require.NoError(t, err)

	return repository, pool
}

func TestPostgres_InsertLead(t *testing.T) {
	repository, _ := newTestPostgres(t)
	ctx := context.Background()

	first, err := repository.InsertLead(ctx, domain.Lead{Name: "Ada", Email: "ada@example.com", Message: "Launch campaign please", Locale: "en"})
	require.NoError(t, err)
	second, err := repository.InsertLead(ctx, domain.Lead{Name: "Grace", Email: "grace@example.com", Message: "Brand refresh for Q3", Locale: "fr"})
	require.NoError(t, err)

	require.Greater(t, second, first)
}

func TestPostgres_UpsertNewsletterSubscriber(t *testing.T) {
	repository, _ := newTestPostgres(t)
	ctx := context.Background()

	created, err := repository.UpsertNewsletterSubscriber(ctx, domain.NewsletterSubscriber{Email: "news@example.com", Locale: "en"})
	require.NoError(t, err)
	require.True(t, created)

	created, err = repository.UpsertNewsletterSubscriber(ctx, domain.NewsletterSubscriber{Email: "news@example.com", Locale: "es"})
	require.NoError(t, err)
	require.False(t, created)
}

func TestPostgres_PublishedPosts(t *testing.T) {
	repository, pool := newTestPostgres(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO posts (slug, locale, title, excerpt, body, tags, published, published_at) VALUES
		('brand-voice', 'en', 'Finding your brand voice', 'e', 'body en', '{branding}', TRUE, NOW() - INTERVAL '2 days'),
		('brand-voice', 'fr', 'Trouver sa voix', 'e', 'body fr', '{branding}', TRUE, NOW() - INTERVAL '2 days'),
		('video-first', 'en', 'Video first', 'e', 'body', '{video}', TRUE, NOW() - INTERVAL '1 day'),
		('draft', 'en', 'Draft', 'e', 'body', '{}', FALSE, NULL)
	`)
	require.NoError(t, err)

	posts, err := repository.ListPublishedPosts(ctx, "en", 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, "video-first", posts[0].Slug)

	post, err := repository.GetPublishedPost(ctx, "fr", "brand-voice")
	require.NoError(t, err)
	require.Equal(t, "fr", post.Locale)

	post, err = repository.GetPublishedPost(ctx, "es", "video-first")
	require.NoError(t, err)
	require.Equal(t, "en", post.Locale)

	_, err = repository.GetPublishedPost(ctx, "en", "draft")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_AdminPushSubscriptions(t *testing.T) {
	repository, _ := newTestPostgres(t)
	ctx := context.Background()

	created, err := repository.UpsertPushSubscription(ctx, domain.PushSubscription{Endpoint: "https://push.example/a", P256DH: "k", Auth: "a"})
	require.NoError(t, err)
	require.True(t, created)

	created, err = repository.UpsertPushSubscription(ctx, domain.PushSubscription{Endpoint: "https://push.example/a", P256DH: "k2", Auth: "a2"})
	require.NoError(t, err)
	require.False(t, created)

	subscriptions, err := repository.ListAdminPushSubscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.PushSubscription{{Endpoint: "https://push.example/a", P256DH: "k2", Auth: "a2"}}, subscriptions)

	require.NoError(t, repository.DeletePushSubscription(ctx, "https://push.example/a"))
	subscriptions, err = repository.ListAdminPushSubscriptions(ctx)
	require.NoError(t, err)
	require.Empty(t, subscriptions)
}
