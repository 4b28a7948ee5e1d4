// Package scan - адаптер внешнего антивирусного сервиса: загрузка файла и опрос анализа
package scan

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"appmarket/internal/config"
	"appmarket/internal/logger"
	"appmarket/internal/metrics"
)

type VerdictKind string

const (
	VerdictSafe      VerdictKind = "safe"
	VerdictMalicious VerdictKind = "malicious"
	VerdictError     VerdictKind = "scan_error"
	VerdictTimeout   VerdictKind = "timeout"
)

// Verdict - итог проверки. Engines заполняется только для VerdictMalicious.
type Verdict struct {
	Kind    VerdictKind
	Detail  string
	Engines int
}

func (v Verdict) Safe() bool {
	return v.Kind == VerdictSafe
}

// Scanner - контракт адаптера для воркера
type Scanner interface {
	Scan(ctx context.Context, r io.Reader, name string, size int64) Verdict
}

// Client работает с API в стиле VirusTotal v3:
// POST {base}/files → data.id, затем GET {base}/analyses/{id} до status=completed
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	maxPolls     int
	log          zerolog.Logger
}

func NewClient(conf config.ScanConfig) *Client {
	rpm := conf.RequestsPerMinute
	limit := rate.Inf
	if rpm > 0 {
		limit = rate.Every(time.Minute / time.Duration(rpm))
	}

	timeout := conf.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	maxPolls := conf.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 15
	}

	return &Client{
		baseURL:      strings.TrimRight(conf.BaseURL, "/"),
		apiKey:       conf.APIKey,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(limit, 1),
		pollInterval: conf.PollInterval,
		maxPolls:     maxPolls,
		log:          logger.Component("scan"),
	}
}

// Scan загружает поток и ждет вердикт. Любая ошибка дает VerdictError,
// исчерпание попыток опроса - VerdictTimeout; вызывающий трактует оба как отказ.
func (c *Client) Scan(ctx context.Context, r io.Reader, name string, size int64) Verdict {
	start := time.Now()
	verdict := c.scan(ctx, r, name, size)
	metrics.RecordScan(string(verdict.Kind), time.Since(start))

	c.log.Info().
		Str("file", name).
		Int64("size", size).
		Str("verdict", string(verdict.Kind)).
		Str("detail", verdict.Detail).
		Dur("elapsed", time.Since(start)).
		Msg("scan finished")
	return verdict
}

func (c *Client) scan(ctx context.Context, r io.Reader, name string, size int64) Verdict {
	analysisID, err := c.upload(ctx, r, name)
	if err != nil {
		return Verdict{Kind: VerdictError, Detail: err.Error()}
	}

	for poll := 1; poll <= c.maxPolls; poll++ {
		if c.pollInterval > 0 {
			select {
			case <-ctx.Done():
				return Verdict{Kind: VerdictError, Detail: ctx.Err().Error()}
			case <-time.After(c.pollInterval):
			}
		}

		body, err := c.get(ctx, "/analyses/"+analysisID)
		if err != nil {
			return Verdict{Kind: VerdictError, Detail: err.Error()}
		}

		status := gjson.GetBytes(body, "data.attributes.status").String()
		if status != "completed" {
			c.log.Debug().Str("analysis", analysisID).Str("status", status).Int("poll", poll).Msg("analysis pending")
			continue
		}

		malicious := int(gjson.GetBytes(body, "data.attributes.stats.malicious").Int())
		if malicious > 0 {
			return Verdict{
				Kind:    VerdictMalicious,
				Detail:  fmt.Sprintf("%d engines", malicious),
				Engines: malicious,
			}
		}
		return Verdict{Kind: VerdictSafe}
	}

	return Verdict{Kind: VerdictTimeout, Detail: fmt.Sprintf("analysis %s not completed after %d polls", analysisID, c.maxPolls)}
}

// upload отправляет файл multipart-потоком, не буферизуя его целиком
func (c *Client) upload(ctx context.Context, r io.Reader, name string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-apikey", c.apiKey)

	body, err := c.do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("upload failed: %w", err)
	}

	id := gjson.GetBytes(body, "data.id").String()
	if id == "" {
		return "", fmt.Errorf("upload response has no analysis id")
	}
	return id, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("scan service returned %d: %s", resp.StatusCode, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("scan service returned malformed JSON")
	}
	return body, nil
}
