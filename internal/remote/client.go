package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxResponseSize = 4 << 20

type Config struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	// FailureThreshold consecutive transient failures open the breaker.
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
}

// TokenSource yields the bearer token for a request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Client talks to the REST cart resource. Copies made by WithTokenSource share the HTTP
// client and the circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	tokens  TokenSource
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "remote-cart-store",
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		breaker: breaker,
		tokens:  StaticToken(cfg.Token),
		logger:  logger,
	}
}

func (c *Client) WithTokenSource(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

func (c *Client) ListCarts(ctx context.Context) ([]domain.RemoteRecord, error) {
	q := url.Values{}
	q.Set("populate", "product,customer")

	data, err := c.do(ctx, http.MethodGet, "/carts?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var env Envelope[[]CartEntry]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode cart list: %w", err)
	}

	records := make([]domain.RemoteRecord, 0, len(env.Data))
	for _, e := range env.Data {
		records = append(records, e.Record())
	}
	return records, nil
}

func (c *Client) CreateCart(ctx context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error) {
	body := Envelope[CreateCartBody]{Data: CreateCartBody{
		Customer: customerID,
		Product:  productID,
		Quantity: quantity,
	}}

	data, err := c.do(ctx, http.MethodPost, "/carts", body)
	if err != nil {
		return domain.RemoteRecord{}, err
	}

	rec, err := decodeEntry(data)
	if err != nil {
		return domain.RemoteRecord{}, fmt.Errorf("decode created cart: %w", err)
	}
	// create responses do not populate relations
	if rec.CustomerID == "" {
		rec.CustomerID = customerID
	}
	if rec.ProductID == "" {
		rec.ProductID = productID
	}
	return rec, nil
}

func (c *Client) UpdateQuantity(ctx context.Context, recordID string, quantity int) (domain.RemoteRecord, error) {
	body := Envelope[UpdateCartBody]{Data: UpdateCartBody{Quantity: quantity}}

	data, err := c.do(ctx, http.MethodPut, "/carts/"+url.PathEscape(recordID), body)
	if err != nil {
		return domain.RemoteRecord{}, err
	}

	rec, err := decodeEntry(data)
	if err != nil {
		return domain.RemoteRecord{}, fmt.Errorf("decode updated cart: %w", err)
	}
	return rec, nil
}

func (c *Client) DeleteCart(ctx context.Context, recordID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/carts/"+url.PathEscape(recordID), nil)
	return err
}

func decodeEntry(data []byte) (domain.RemoteRecord, error) {
	var env Envelope[CartEntry]
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.RemoteRecord{}, err
	}
	return env.Data.Record(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s %s: %w", ErrTransient, method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %w", ErrTransient, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, newStatusError(method, path, resp.StatusCode, data)
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return data, err
}
