// Package entropy provides the random sources that drive every stochastic
// decision in the simulation. Engines depend on the Source interface only, so
// production code can plug in a time-seeded generator, crypto/rand, or a
// random.org pool, and tests can plug in a scripted sequence.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	mathrand "math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Source is the random-number dependency injected into the engine.
// *math/rand.Rand satisfies it.
type Source interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// NormFloat64 returns a standard normal value (mean 0, stddev 1).
	NormFloat64() float64
}

// Uniform returns a uniform value in [lo, hi).
func Uniform(src Source, lo, hi float64) float64 {
	return lo + (hi-lo)*src.Float64()
}

// Normal returns a normal value with the given mean and standard deviation.
func Normal(src Source, mean, stddev float64) float64 {
	return mean + stddev*src.NormFloat64()
}

// NewSeeded returns a math/rand source. A zero seed draws one from the clock,
// so two runs are independent stochastic trials.
func NewSeeded(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return mathrand.New(mathrand.NewSource(seed))
}

// SeededFactory returns a constructor yielding a fresh source per call.
// With a non-zero base the n-th source is seeded base+n, which keeps a whole
// server run reproducible while sessions still differ.
func SeededFactory(base int64) func() Source {
	var n atomic.Int64
	return func() Source {
		if base == 0 {
			return NewSeeded(0)
		}
		return NewSeeded(base + n.Add(1))
	}
}

// CryptoSource draws from crypto/rand. It is safe for concurrent use.
type CryptoSource struct{}

// Float64 implements Source.
func (CryptoSource) Float64() float64 { return cryptoRandFloat() }

// NormFloat64 implements Source.
func (CryptoSource) NormFloat64() float64 { return boxMuller(cryptoRandFloat) }

// Client provides true random numbers from random.org with a local pool.
// Falls back to crypto/rand when the API is unavailable.
type Client struct {
	apiKey string
	client *http.Client

	mu   sync.Mutex
	pool []float64
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Float64 returns a random float64 in [0, 1). Uses the pool, refilling from
// random.org when low. Falls back to crypto/rand on API failure.
func (c *Client) Float64() float64 {
	if !c.Enabled() {
		return cryptoRandFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < 10 {
		c.refill()
	}

	if len(c.pool) == 0 {
		return cryptoRandFloat()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

// NormFloat64 implements Source using two pooled uniforms.
func (c *Client) NormFloat64() float64 {
	return boxMuller(c.Float64)
}

func (c *Client) refill() {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateDecimalFractions",
		"params": map[string]any{
			"apiKey":        c.apiKey,
			"n":             500,
			"decimalPlaces": 10,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.Debug("random.org marshal failed", "error", err)
		return
	}

	resp, err := c.client.Post("https://api.random.org/json-rpc/4/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Debug("random.org fetch failed", "error", err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("random.org read failed", "error", err)
		return
	}

	var result struct {
		Result struct {
			Random struct {
				Data []float64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		slog.Debug("random.org parse failed", "error", err)
		return
	}

	if result.Error != nil {
		slog.Debug("random.org API error", "error", result.Error.Message)
		return
	}

	c.pool = append(c.pool, result.Result.Random.Data...)
	slog.Debug("random.org pool refilled", "count", len(result.Result.Random.Data))
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	// 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

func boxMuller(uniform func() float64) float64 {
	u1 := uniform()
	for u1 == 0 {
		u1 = uniform()
	}
	u2 := uniform()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
