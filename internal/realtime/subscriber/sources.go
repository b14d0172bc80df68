package subscriber

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// PostgresSource subscribes with LISTEN on a dedicated connection.
type PostgresSource struct {
	url string
}

func NewPostgresSource(url string) *PostgresSource {
	return &PostgresSource{url: url}
}

func (p *PostgresSource) Listen(ctx context.Context, channel string) (Stream, error) {
	conn, err := pgx.Connect(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	ident := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+ident); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	return &pgStream{conn: conn, ident: ident}, nil
}

// pgStream serializes Next and Close; a pgx.Conn is not safe for concurrent use.
type pgStream struct {
	mu    sync.Mutex
	conn  *pgx.Conn
	ident string
}

func (s *pgStream) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(n.Payload), nil
}

func (s *pgStream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.conn.IsClosed() {
		_, _ = s.conn.Exec(ctx, "UNLISTEN "+s.ident)
	}
	return s.conn.Close(ctx)
}

// PubSubClient is satisfied by the shared redis client.
type PubSubClient interface {
	Subscribe(ctx context.Context, channel string) *redis.PubSub
}

// RedisSource subscribes to a Redis pub/sub channel.
type RedisSource struct {
	client PubSubClient
}

func NewRedisSource(client PubSubClient) *RedisSource {
	return &RedisSource{client: client}
}

func (r *RedisSource) Listen(ctx context.Context, channel string) (Stream, error) {
	sub := r.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so failures surface here.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return &redisStream{sub: sub, channel: channel}, nil
}

type redisStream struct {
	sub     *redis.PubSub
	channel string
}

func (s *redisStream) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

// Close unblocks a pending Next; ReceiveMessage does not return on cancellation alone.
func (s *redisStream) Close(ctx context.Context) error {
	_ = s.sub.Unsubscribe(ctx, s.channel)
	return s.sub.Close()
}
