package store

import (
	"context"
	"errors"

	"github.com/gordonpn/studio-site/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	InsertLead(ctx context.Context, lead domain.Lead) (int64, error)
	UpsertNewsletterSubscriber(ctx context.Context, subscriber domain.NewsletterSubscriber) (bool, error)
	ListPublishedPosts(ctx context.Context, locale string, limit int) ([]domain.Post, error)
	GetPublishedPost(ctx context.Context, locale, slug string) (domain.Post, error)
	UpsertPushSubscription(ctx context.Context, subscription domain.PushSubscription) (bool, error)
	ListAdminPushSubscriptions(ctx context.Context) ([]domain.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

const schema = `
CREATE TABLE IF NOT EXISTS leads (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL,
	company    TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	budget     TEXT NOT NULL DEFAULT '',
	locale     TEXT NOT NULL,
	client_ip  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS newsletter_subscribers (
	email      TEXT PRIMARY KEY,
	locale     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS posts (
	slug         TEXT NOT NULL,
	locale       TEXT NOT NULL,
	title        TEXT NOT NULL,
	excerpt      TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	cover_url    TEXT NOT NULL DEFAULT '',
	tags         TEXT[] NOT NULL DEFAULT '{}',
	published    BOOLEAN NOT NULL DEFAULT FALSE,
	published_at TIMESTAMPTZ,
	PRIMARY KEY (slug, locale)
);

CREATE TABLE IF NOT EXISTS admin_push_subscriptions (
	endpoint   TEXT PRIMARY KEY,
	p256dh     TEXT NOT NULL,
	auth       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ
);

ALTER TABLE admin_push_subscriptions ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ;
`

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tables the API reads and writes when missing.
func (repository *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := repository.db.Exec(ctx, schema)
	return err
}

func (repository *Postgres) InsertLead(ctx context.Context, lead domain.Lead) (int64, error) {
	query := `
		INSERT INTO leads (name, email, company, message, budget, locale, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id
	`

	var id int64
	err := repository.db.QueryRow(ctx, query, lead.Name, lead.Email, lead.Company, lead.Message, lead.Budget, lead.Locale, lead.ClientIP).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (repository *Postgres) UpsertNewsletterSubscriber(ctx context.Context, subscriber domain.NewsletterSubscriber) (bool, error) {
	existsQuery := `SELECT EXISTS(SELECT 1 FROM newsletter_subscribers WHERE email = $1)`
	var exists bool
	if err := repository.db.QueryRow(ctx, existsQuery, subscriber.Email).Scan(&exists); err != nil {
		return false, err
	}

	upsertQuery := `
		INSERT INTO newsletter_subscribers (email, locale, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email)
		DO UPDATE SET locale = EXCLUDED.locale, updated_at = NOW()
	`

	if _, err := repository.db.Exec(ctx, upsertQuery, subscriber.Email, subscriber.Locale); err != nil {
		return false, err
	}

	return !exists, nil
}

func (repository *Postgres) ListPublishedPosts(ctx context.Context, locale string, limit int) ([]domain.Post, error) {
	query := `
		SELECT slug, locale, title, excerpt, cover_url, tags, COALESCE(published_at, to_timestamp(0))
		FROM posts
		WHERE published AND locale = $1
		ORDER BY published_at DESC NULLS LAST
		LIMIT $2
	`
	rows, err := repository.db.Query(ctx, query, locale, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Post, 0)
	for rows.Next() {
		item := domain.Post{}
		if err := rows.Scan(&item.Slug, &item.Locale, &item.Title, &item.Excerpt, &item.CoverURL, &item.Tags, &item.PublishedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetPublishedPost prefers the requested locale and falls back to the default
// locale when the article has not been translated yet.
func (repository *Postgres) GetPublishedPost(ctx context.Context, locale, slug string) (domain.Post, error) {
	query := `
		SELECT slug, locale, title, excerpt, body, cover_url, tags, COALESCE(published_at, to_timestamp(0))
		FROM posts
		WHERE published AND slug = $1 AND locale IN ($2, $3)
		ORDER BY (locale = $2) DESC
		LIMIT 1
	`

	var post domain.Post
	err := repository.db.QueryRow(ctx, query, slug, locale, domain.DefaultLocale).
		Scan(&post.Slug, &post.Locale, &post.Title, &post.Excerpt, &post.Body, &post.CoverURL, &post.Tags, &post.PublishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Post{}, ErrNotFound
		}
		return domain.Post{}, err
	}
	return post, nil
}

// UpsertPushSubscription refreshes the keys of a known endpoint and reports
// whether the endpoint is new.
func (repository *Postgres) UpsertPushSubscription(ctx context.Context, subscription domain.PushSubscription) (bool, error) {
	query := `
		INSERT INTO admin_push_subscriptions (endpoint, p256dh, auth, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (endpoint)
		DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, updated_at = NOW()
		RETURNING (xmax = 0)
	`

	var created bool
	err := repository.db.QueryRow(ctx, query, subscription.Endpoint, subscription.P256DH, subscription.Auth).Scan(&created)
	if err != nil {
		return false, err
	}
	return created, nil
}

func (repository *Postgres) ListAdminPushSubscriptions(ctx context.Context) ([]domain.PushSubscription, error) {
	rows, err := repository.db.Query(ctx, `SELECT endpoint, p256dh, auth FROM admin_push_subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PushSubscription, 0)
	for rows.Next() {
		item := domain.PushSubscription{}
		if err := rows.Scan(&item.Endpoint, &item.P256DH, &item.Auth); err != nil {
			return nil, err
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (repository *Postgres) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := repository.db.Exec(ctx, `DELETE FROM admin_push_subscriptions WHERE endpoint = $1`, endpoint)
	return err
}
