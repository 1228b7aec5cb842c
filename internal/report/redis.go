package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisOptions configure the Redis sink.
type RedisOptions struct {
	// Channel receives every event as JSON via PUBLISH. Empty disables it.
	Channel string
	// KeyPrefix namespaces the per-asset "latest" hashes.
	KeyPrefix string
	// TTL expires the latest hash when the asset stops reporting.
	TTL time.Duration
}

// RedisSink keeps the latest spread per asset in a hash and broadcasts
// events on a pub/sub channel.
type RedisSink struct {
	rdb    redis.UniversalClient
	opts   RedisOptions
	logger zerolog.Logger
}

// NewRedisSink wraps an existing client.
func NewRedisSink(rdb redis.UniversalClient, opts RedisOptions, logger zerolog.Logger) *RedisSink {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "arbwatcher:"
	}
	return &RedisSink{
		rdb:    rdb,
		opts:   opts,
		logger: logger.With().Str("component", "report_redis").Logger(),
	}
}

// LatestKey is the hash holding the most recent result for asset.
func (s *RedisSink) LatestKey(asset string) string {
	return s.opts.KeyPrefix + "latest:" + asset
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	key := s.LatestKey(ev.Asset)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, latestFields(ev, payload))
		if s.opts.TTL > 0 {
			pipe.Expire(ctx, key, s.opts.TTL)
		}
		if s.opts.Channel != "" {
			pipe.Publish(ctx, s.opts.Channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", ev.Asset, err)
	}
	return nil
}

// Close releases the client.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

func latestFields(ev Event, payload []byte) map[string]interface{} {
	fields := map[string]interface{}{
		"reason":  string(ev.Reason),
		"ts":      strconv.FormatInt(ev.At.UnixNano(), 10),
		"payload": string(payload),
	}
	if r := ev.Report; r != nil {
		fields["spread"] = strconv.FormatFloat(r.Spread, 'f', -1, 64)
		fields["spread_pct"] = strconv.FormatFloat(r.SpreadPct, 'f', -1, 64)
		fields["buy"] = r.Cheapest.String()
		fields["sell"] = r.Priciest.String()
	}
	return fields
}

var (
	_ Sink   = (*RedisSink)(nil)
	_ Closer = (*RedisSink)(nil)
)
