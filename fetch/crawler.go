package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dnldd/candlebot/shared"
	"github.com/tidwall/gjson"
)

// CrawlerConfig represents the configuration for a candle crawler client.
type CrawlerConfig struct {
	// BaseURL is the crawler host url.
	BaseURL string
	// Key is the access token forwarded to the crawler host.
	Key string
	// Market is the crawled market.
	Market shared.Market
	// Timeframe is the crawled candle timeframe.
	Timeframe shared.Timeframe
	// Timeout is the per request timeout.
	Timeout time.Duration
	// PollInterval is the wait between polls for a candle the host has not published
	// yet, defaults to the timeframe period.
	PollInterval time.Duration
	// Now returns the current time, defaults to time.Now.
	Now func() time.Time
}

// Validate asserts the config sane inputs.
func (cfg *CrawlerConfig) Validate() error {
	var errs error

	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("crawler base url cannot be an empty string"))
	}
	if cfg.Market == nil {
		errs = errors.Join(errs, fmt.Errorf("crawler market cannot be nil"))
	}
	if err := cfg.Timeframe.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}

	return errs
}

// CrawlerClient fetches candles of one market from a candle crawler host. The host
// serves the exchange's own candle payload at
// `/candles/{exchange}/{symbol}/{timeframe}` with either an `after` or an `at` query.
type CrawlerClient struct {
	cfg    *CrawlerConfig
	httpc  http.Client
	buf    *bytes.Buffer
	bufMtx sync.Mutex
}

// Ensure the CrawlerClient implements the CandleSource interface.
var _ CandleSource = (*CrawlerClient)(nil)

// NewCrawlerClient instantiates a new crawler client.
func NewCrawlerClient(cfg *CrawlerConfig) (*CrawlerClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Second * 5
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Duration(cfg.Timeframe.Period()) * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CrawlerClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: timeout},
		buf:   bytes.NewBuffer(make([]byte, 0, 512)),
	}, nil
}

// formURL creates full urls including parameters for the crawler host.
func (c *CrawlerClient) formURL(params string) string {
	c.bufMtx.Lock()
	defer c.bufMtx.Unlock()

	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString("/candles/")
	c.buf.WriteString(string(c.cfg.Market.Exchange()))
	c.buf.WriteString("/")
	c.buf.WriteString(url.PathEscape(c.cfg.Market.Symbol()))
	c.buf.WriteString("/")
	c.buf.WriteString(strconv.Itoa(int(c.cfg.Timeframe)))
	if params != "" {
		c.buf.WriteString("?")
		c.buf.WriteString(params)
	}
	formed := c.buf.String()
	c.buf.Reset()

	return formed
}

// fetch requests and decodes a single candle.
func (c *CrawlerClient) fetch(ctx context.Context, params url.Values) (shared.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.formURL(params.Encode()), nil)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("creating crawler request: %w", err)
	}
	if c.cfg.Key != "" {
		req.Header.Set("x-access-token", c.cfg.Key)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("fetching %s candle: %w", c.cfg.Market.Symbol(), err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("reading response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return shared.Candle{}, ErrExhausted
	default:
		return shared.Candle{}, fmt.Errorf("fetching %s candle: unexpected status %d: %s",
			c.cfg.Market.Symbol(), resp.StatusCode, gjson.GetBytes(body, "message").String())
	}

	data := gjson.ParseBytes(body)
	if data.Type == gjson.Null || len(body) == 0 {
		return shared.Candle{}, ErrExhausted
	}

	return DecodeCandle(c.cfg.Market.Exchange(), data)
}

// pending returns whether the candle following the provided candle may not be
// published yet. The host gets one period past the candle's close to publish it.
func (c *CrawlerClient) pending(prev *shared.Candle) bool {
	if prev == nil {
		return false
	}

	period := c.cfg.Timeframe.Period()
	next := prev.Timestamp + period
	return next+2*period > c.cfg.Now().UnixMilli()
}

// FetchNext returns the candle following the provided candle. A candle the host has
// not published yet is polled for until it is or the context is done; a missing
// candle in the past exhausts the source.
func (c *CrawlerClient) FetchNext(ctx context.Context, prev *shared.Candle) (shared.Candle, error) {
	params := url.Values{}
	if prev != nil {
		params.Add("after", strconv.FormatInt(prev.Timestamp, 10))
	}

	for {
		candle, err := c.fetch(ctx, params)
		if !errors.Is(err, ErrExhausted) || !c.pending(prev) {
			return candle, err
		}

		select {
		case <-ctx.Done():
			return shared.Candle{}, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// FetchAt returns the first candle at or after the provided timestamp.
func (c *CrawlerClient) FetchAt(ctx context.Context, ts int64) (shared.Candle, error) {
	params := url.Values{}
	params.Add("at", strconv.FormatInt(ts, 10))

	return c.fetch(ctx, params)
}

// NewCrawlerSourceFactory returns a source factory creating crawler clients against the
// provided crawler host.
func NewCrawlerSourceFactory(baseURL string, key string) SourceFactory {
	return func(market shared.Market, timeframe shared.Timeframe) (CandleSource, error) {
		client, err := NewCrawlerClient(&CrawlerConfig{
			BaseURL:   baseURL,
			Key:       key,
			Market:    market,
			Timeframe: timeframe,
		})
		if err != nil {
			return nil, err
		}

		return client, nil
	}
}
