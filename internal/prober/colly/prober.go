// Package collyprober implements probe.Prober using gocolly.
package collyprober

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/probe"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Headers are added to every probe request.
	Headers http.Header
}

// Prober issues one HEAD request per target through a Colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// probeResult is filled in by the collector callbacks.
type probeResult struct {
	status  int
	headers http.Header
	err     error
}

// New builds a Prober. Every status code is delivered to OnResponse so that
// 4xx/5xx answers are reported as responses rather than transport failures.
func New(cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Clones share the jar; probes must not carry cookies between requests.
	c.DisableCookies()
	// Clones share the backend client, so transport and timeout are set once here.
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Prober{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Probe implements probe.Prober. Latency covers the request from just before
// dispatch until the response or error arrives. A request abandoned because
// ctx ended is reported as canceled, not unreachable.
func (p *Prober) Probe(ctx context.Context, target probe.Target) probe.Outcome {
	var result probeResult
	collector := p.baseCollector.Clone()
	collector.Context = ctx
	p.configureCollectorHooks(collector, &result)

	start := time.Now()
	err := p.runCollector(ctx, collector, target.URL, &result)
	latency := time.Since(start)
	if err != nil {
		p.logger.Debug("probe request failed",
			zap.String("id", target.ID),
			zap.String("url", target.URL),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return probe.CanceledOutcome(probe.Record{ID: target.ID, URL: target.Raw})
		}
		return probe.UnreachableOutcome(target, latency)
	}
	return probe.RespondedOutcome(target, result.status, latency, FormatHeaders(result.headers))
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, result *probeResult) {
	hooks.OnRequest(func(r *colly.Request) {
		p.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		if r.Headers != nil {
			result.headers = r.Headers.Clone()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		result.err = err
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string, result *probeResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Head(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly head failed: %w", err)
		}
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		if result.status == 0 {
			return fmt.Errorf("colly head returned no response for %s", url)
		}
		return nil
	}
}

func (p *Prober) copyHeaders(r *colly.Request) {
	if p.cfg.Headers == nil || r.Headers == nil {
		return
	}
	for key, values := range p.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// FormatHeaders renders response headers as a single line, names lower-cased
// and sorted, e.g. `Headers: {"content-type": "text/html", "server": "nginx"}`.
func FormatHeaders(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Headers: {")
	first := true
	for _, name := range names {
		key := strconv.Quote(strings.ToLower(name))
		for _, v := range h[name] {
			if !first {
				b.WriteString(", ")
			}
			first = false
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(strconv.Quote(v))
		}
	}
	b.WriteString("}")
	return b.String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
