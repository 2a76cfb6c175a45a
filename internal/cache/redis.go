package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/matcher"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	evaluationKeyPrefix = "workshop:evaluation:"
	ObservationChannel  = "workshop:observations"
	defaultTelemetryTTL = 6 * time.Hour
)

// Connect dials REDIS_URL, which may be a redis:// URL or a bare host:port.
// An empty url returns a nil client and no error.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		log.Info().Msg("REDIS_URL not set, telemetry disabled")
		return nil, nil
	}

	opts := &redis.Options{Addr: url}
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("connected to Redis")
	return client, nil
}

// CandidateView is the published form of one scored scenario.
type CandidateView struct {
	ScenarioID     string          `json:"scenario_id"`
	Score          float64         `json:"score"`
	Category       domain.Category `json:"category"`
	HighConfidence bool            `json:"high_confidence"`
	Gated          bool            `json:"gated"`
}

// Evaluation is the latest matcher outcome for a symbol.
type Evaluation struct {
	Symbol     string          `json:"symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	Winner     string          `json:"winner,omitempty"`
	Category   domain.Category `json:"category"`
	Candidates []CandidateView `json:"candidates"`
}

// Observation is pushed on ObservationChannel for every OBSERVATION candidate.
type Observation struct {
	Symbol    string        `json:"symbol"`
	Timestamp time.Time     `json:"timestamp"`
	Candidate CandidateView `json:"candidate"`
}

func view(c matcher.Candidate) CandidateView {
	return CandidateView{
		ScenarioID:     c.ScenarioID,
		Score:          c.Score,
		Category:       c.Category,
		HighConfidence: c.HighConfidence,
		Gated:          c.Gated,
	}
}

// TelemetryPublisher stores the latest evaluation per symbol in a hash and
// publishes observations for dashboards.
type TelemetryPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTelemetryPublisher(client *redis.Client, ttl time.Duration) *TelemetryPublisher {
	if ttl <= 0 {
		ttl = defaultTelemetryTTL
	}
	return &TelemetryPublisher{client: client, ttl: ttl}
}

func (p *TelemetryPublisher) PublishEvaluation(ctx context.Context, res matcher.Result) error {
	if p == nil || p.client == nil {
		return nil
	}

	symbol := domain.NormalizeSymbol(res.Symbol)
	ev := Evaluation{
		Symbol:     symbol,
		Timestamp:  res.Timestamp.UTC(),
		Category:   domain.CategorySkip,
		Candidates: make([]CandidateView, 0, len(res.Candidates)),
	}
	for _, c := range res.Candidates {
		ev.Candidates = append(ev.Candidates, view(c))
	}
	if w, ok := res.Winner(); ok {
		ev.Winner = w.ScenarioID
		ev.Category = w.Category
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	key := evaluationKeyPrefix + symbol
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"timestamp": ev.Timestamp.Format(time.RFC3339),
		"winner":    ev.Winner,
		"category":  string(ev.Category),
		"payload":   payload,
	})
	pipe.Expire(ctx, key, p.ttl)
	for _, c := range res.Observations() {
		msg, err := json.Marshal(Observation{Symbol: symbol, Timestamp: ev.Timestamp, Candidate: view(c)})
		if err != nil {
			return err
		}
		pipe.Publish(ctx, ObservationChannel, msg)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish telemetry for %s: %w", symbol, err)
	}
	return nil
}

// ErrNoTelemetry is returned by Latest when nothing was published for a symbol.
var ErrNoTelemetry = errors.New("no telemetry for symbol")

func (p *TelemetryPublisher) Latest(ctx context.Context, symbol string) (Evaluation, error) {
	if p == nil || p.client == nil {
		return Evaluation{}, ErrNoTelemetry
	}
	raw, err := p.client.HGet(ctx, evaluationKeyPrefix+domain.NormalizeSymbol(symbol), "payload").Bytes()
	if errors.Is(err, redis.Nil) {
		return Evaluation{}, ErrNoTelemetry
	}
	if err != nil {
		return Evaluation{}, err
	}
	var ev Evaluation
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Evaluation{}, fmt.Errorf("decode telemetry: %w", err)
	}
	return ev, nil
}
