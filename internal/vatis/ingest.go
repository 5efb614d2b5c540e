package vatis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/metrics"
	"github.com/saviobatista/atc-online/internal/types"
)

// Outcome of a single webhook delivery
type Outcome string

const (
	OutcomeStored  Outcome = "stored"
	OutcomeIgnored Outcome = "ignored"
	OutcomeInvalid Outcome = "invalid"
	OutcomeFailed  Outcome = "failed"
)

// DefaultTTL is how long an ATIS survives without a refresh
const DefaultTTL = 65 * time.Second

// Payload is the body vATIS posts on every ATIS change
type Payload struct {
	ConfigProfile string `json:"config_profile" validate:"max=1024"`
	Facility      string `json:"facility" validate:"required,alphanum,max=8"`
	AtisLetter    string `json:"atis_letter" validate:"required,alpha,len=1"`
}

// Store is the subset of the Redis client written on ingest
type Store interface {
	StoreAtis(ctx context.Context, atis *types.AtisRecord, ttl time.Duration) error
	AddActiveAtis(ctx context.Context, station string, ttl time.Duration) error
	Publish(ctx context.Context, channel, payload string) error
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the payload fields
func Validate(p *Payload) error {
	return getValidator().Struct(p)
}

// Ingestor turns vATIS webhook payloads into ATIS records
type Ingestor struct {
	store Store
	ttl   time.Duration
	log   zerolog.Logger
}

// NewIngestor creates an ingestor writing records with the given TTL
func NewIngestor(store Store, ttl time.Duration) *Ingestor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ingestor{
		store: store,
		ttl:   ttl,
		log:   logging.Component("vatis"),
	}
}

// Ingest parses and stores one payload. Profiles without the IDS: marker are
// ignored. The returned error is for logging only; the webhook is always
// acknowledged.
func (i *Ingestor) Ingest(ctx context.Context, p Payload) (Outcome, error) {
	outcome, err := i.ingest(ctx, p)
	metrics.VatisUpdates.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (i *Ingestor) ingest(ctx context.Context, p Payload) (Outcome, error) {
	if err := Validate(&p); err != nil {
		return OutcomeInvalid, fmt.Errorf("invalid vATIS payload: %w", err)
	}

	rwys, skipped, ok := parse(p.ConfigProfile)
	if !ok {
		return OutcomeIgnored, nil
	}
	if skipped > 0 {
		metrics.VatisTokensSkipped.Add(float64(skipped))
		i.log.Debug().
			Str("facility", p.Facility).
			Str("profile", p.ConfigProfile).
			Int("skipped", skipped).
			Msg("Skipped runway tokens")
	}

	station := strings.ToUpper(p.Facility)
	atis := &types.AtisRecord{
		Station: station,
		Letter:  strings.ToUpper(p.AtisLetter),
		Dep:     rwys.Dep,
		Arr:     rwys.Arr,
	}

	if err := i.store.StoreAtis(ctx, atis, i.ttl); err != nil {
		return OutcomeFailed, err
	}
	if err := i.store.AddActiveAtis(ctx, station, i.ttl); err != nil {
		return OutcomeFailed, err
	}
	if err := i.store.Publish(ctx, types.ChannelAtisUpdate, station); err != nil {
		return OutcomeFailed, err
	}

	return OutcomeStored, nil
}
