// Package entropy draws run seeds from random.org, falling back to crypto/rand
// when no API key is configured or the service is unavailable.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultEndpoint = "https://api.random.org/json-rpc/4/invoke"

// Client hands out random.org integers from a local pool.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	mu   sync.Mutex
	pool []int64
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Seed returns a positive seed from the client if available, or crypto/rand.
func Seed(c *Client) int64 {
	if c.Enabled() {
		if v, ok := c.next(); ok {
			return v
		}
	}
	return cryptoSeed()
}

func (c *Client) next() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) == 0 {
		c.refill()
	}
	if len(c.pool) == 0 {
		return 0, false
	}
	v := c.pool[0]
	c.pool = c.pool[1:]
	return v, true
}

// refill fetches a batch of 31-bit integer pairs and packs each pair into one seed.
func (c *Client) refill() {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey": c.apiKey,
			"n":      16,
			"min":    1,
			"max":    1<<31 - 1,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.Debug("random.org marshal failed", "error", err)
		return
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewReader(body))
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
				Data []int64 `json:"data"`
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

	data := result.Result.Random.Data
	for i := 0; i+1 < len(data); i += 2 {
		c.pool = append(c.pool, data[i]<<31|data[i+1])
	}
	slog.Debug("random.org pool refilled", "count", len(data)/2)
}

// cryptoSeed returns a positive int64 from crypto/rand.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() & (1<<62 - 1)
	}
	v := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if v == 0 {
		v = 1
	}
	return v
}
