package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/atc-online/internal/types"
)

// Aggregate keys holding ListSeparator-joined values
const (
	KeyPilots    = "pilots"
	KeyAtis      = "atis"
	KeyAirports  = "airports"
	KeyNeighbors = "neighbors"

	// KeyControllers holds a JSON array of online facility controllers
	KeyControllers = "controllers"

	ListSeparator = "|"
)

// maxWatchRetries bounds optimistic-lock retries on aggregate list updates
const maxWatchRetries = 5

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client from a redis:// URL
func New(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks that Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// PilotKey returns the hash key of a pilot record
func PilotKey(callsign string) string {
	return "PILOT:" + callsign
}

// AtisKey returns the hash key of an ATIS record
func AtisKey(station string) string {
	return "ATIS:" + station
}

// MetarKey returns the key of a station's raw METAR
func MetarKey(station string) string {
	return "METAR:" + strings.ToUpper(station)
}

// StorePilot replaces the pilot record for the callsign
func (c *Client) StorePilot(ctx context.Context, pilot *types.PilotRecord) error {
	key := PilotKey(pilot.Callsign)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, pilotFields(pilot))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store pilot %s: %w", pilot.Callsign, err)
	}
	return nil
}

// GetPilot retrieves a pilot record, returning nil when the callsign is not tracked
func (c *Client) GetPilot(ctx context.Context, callsign string) (*types.PilotRecord, error) {
	var pilot types.PilotRecord
	found, err := c.getHash(ctx, PilotKey(callsign), &pilot, "pilot")
	if err != nil || !found {
		return nil, err
	}
	return &pilot, nil
}

// DeletePilot removes a pilot record
func (c *Client) DeletePilot(ctx context.Context, callsign string) error {
	return c.client.Del(ctx, PilotKey(callsign)).Err()
}

// StoreAtis replaces the ATIS record for the station and sets its TTL
func (c *Client) StoreAtis(ctx context.Context, atis *types.AtisRecord, ttl time.Duration) error {
	key := AtisKey(atis.Station)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"station": atis.Station,
			"letter":  atis.Letter,
			"dep":     atis.Dep,
			"arr":     atis.Arr,
		})
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store ATIS %s: %w", atis.Station, err)
	}
	return nil
}

// GetAtis retrieves an ATIS record, returning nil when absent or expired
func (c *Client) GetAtis(ctx context.Context, station string) (*types.AtisRecord, error) {
	var atis types.AtisRecord
	found, err := c.getHash(ctx, AtisKey(station), &atis, "ATIS")
	if err != nil || !found {
		return nil, err
	}
	return &atis, nil
}

// DeleteAtis removes an ATIS record
func (c *Client) DeleteAtis(ctx context.Context, station string) error {
	return c.client.Del(ctx, AtisKey(station)).Err()
}

// AddActiveAtis adds the station to the active ATIS list and refreshes the
// list TTL. Concurrent updates are serialized with WATCH.
func (c *Client) AddActiveAtis(ctx context.Context, station string, ttl time.Duration) error {
	update := func(tx *redis.Tx) error {
		stations, err := getList(ctx, tx, KeyAtis)
		if err != nil {
			return err
		}
		stations = appendUnique(stations, station)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, KeyAtis, strings.Join(stations, ListSeparator), ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := c.client.Watch(ctx, update, KeyAtis)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update active ATIS list: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to update active ATIS list: too much contention")
}

// ActiveAtis returns the stations in the active ATIS list whose record still
// exists. Each ATIS record expires on its own TTL, so the list is filtered
// rather than trusted.
func (c *Client) ActiveAtis(ctx context.Context) ([]string, error) {
	stations, err := c.GetList(ctx, KeyAtis)
	if err != nil || len(stations) == 0 {
		return stations, err
	}

	cmds := make([]*redis.IntCmd, len(stations))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, station := range stations {
			cmds[i] = pipe.Exists(ctx, AtisKey(station))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check ATIS records: %w", err)
	}

	active := make([]string, 0, len(stations))
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			active = append(active, stations[i])
		}
	}
	return active, nil
}

// SetMetar stores the raw METAR for a station
func (c *Client) SetMetar(ctx context.Context, station, raw string) error {
	return c.client.Set(ctx, MetarKey(station), raw, 0).Err()
}

// GetMetar retrieves the raw METAR for a station
func (c *Client) GetMetar(ctx context.Context, station string) (string, bool, error) {
	val, err := c.client.Get(ctx, MetarKey(station)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get METAR data: %w", err)
	}
	return val, true, nil
}

// GetList reads a ListSeparator-joined aggregate key. A missing or empty key
// yields an empty list.
func (c *Client) GetList(ctx context.Context, key string) ([]string, error) {
	return getList(ctx, c.client, key)
}

// SetList writes a ListSeparator-joined aggregate key without expiry
func (c *Client) SetList(ctx context.Context, key string, items []string) error {
	return c.client.Set(ctx, key, strings.Join(items, ListSeparator), 0).Err()
}

// SetControllers stores the online facility controllers
func (c *Client) SetControllers(ctx context.Context, controllers []types.ControllerPosition) error {
	data, err := json.Marshal(controllers)
	if err != nil {
		return fmt.Errorf("failed to marshal controllers: %w", err)
	}
	return c.client.Set(ctx, KeyControllers, data, 0).Err()
}

// GetControllers retrieves the online facility controllers
func (c *Client) GetControllers(ctx context.Context) ([]types.ControllerPosition, error) {
	data, err := c.client.Get(ctx, KeyControllers).Bytes()
	if err == redis.Nil {
		return []types.ControllerPosition{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get controllers data: %w", err)
	}

	var controllers []types.ControllerPosition
	if err := json.Unmarshal(data, &controllers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal controllers data: %w", err)
	}
	return controllers, nil
}

// Publish publishes a change notification
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// getHash reads a hash into target, reporting whether the key existed
func (c *Client) getHash(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	cmd := c.client.HGetAll(ctx, key)
	fields, err := cmd.Result()
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}
	if len(fields) == 0 {
		return false, nil
	}
	if err := cmd.Scan(target); err != nil {
		return false, fmt.Errorf("failed to decode %s data: %w", dataType, err)
	}
	return true, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getList(ctx context.Context, g getter, key string) ([]string, error) {
	val, err := g.Get(ctx, key).Result()
	if err == redis.Nil || (err == nil && val == "") {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s list: %w", key, err)
	}
	return strings.Split(val, ListSeparator), nil
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}

func pilotFields(p *types.PilotRecord) map[string]interface{} {
	return map[string]interface{}{
		"cid":            strconv.Itoa(p.CID),
		"name":           p.Name,
		"callsign":       p.Callsign,
		"aircraft":       p.Aircraft,
		"dep":            p.Dep,
		"dest":           p.Dest,
		"code":           p.Code,
		"lat":            strconv.FormatFloat(p.Lat, 'f', -1, 64),
		"lng":            strconv.FormatFloat(p.Lng, 'f', -1, 64),
		"altitude":       strconv.Itoa(p.Altitude),
		"heading":        strconv.Itoa(p.Heading),
		"speed":          strconv.Itoa(p.Speed),
		"planned_cruise": p.PlannedCruise,
		"route":          p.Route,
		"remarks":        p.Remarks,
	}
}
