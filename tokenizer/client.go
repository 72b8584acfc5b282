// Package tokenizer talks to the morphological analysis service that splits
// Japanese text into tokens with readings. Span texts are batched into as
// few requests as possible and the response is split back per span.
package tokenizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Separator joins span texts inside one request. The newlines keep the
// analyser from gluing the mark to neighbouring words.
const Separator = "\n" + separatorMark + "\n"

const separatorMark = "␞"

const (
	HeaderSeq     = "X-Furigana-Seq"
	HeaderContext = "X-Furigana-Context"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultURL         = "http://127.0.0.1:8765/tokenize"
	DefaultTimeout     = 10 * time.Second
	DefaultBatchChars  = 2000
	DefaultMaxAttempts = 3
	DefaultBackoff     = 200 * time.Millisecond
	DefaultMaxInFlight = 4
)

// Token is one morpheme. Reading is empty for tokens that need no
// annotation.
type Token struct {
	Surface      string `json:"surface"`
	Reading      string `json:"reading,omitempty"`
	PartOfSpeech string `json:"partOfSpeech,omitempty"`
}

// Input is one span of text to tokenize.
type Input struct {
	ID   uint64
	Text string
}

// Result is the outcome for one span. Seq is the sequence number of the
// request that carried it.
type Result struct {
	SpanID uint64
	Seq    uint64
	Tokens []Token
	Err    error
}

// Options configures a Client.
type Options struct {
	URL         string
	Timeout     time.Duration
	BatchChars  int
	MaxAttempts int
	Backoff     time.Duration
	MaxInFlight int
	// ContextID identifies the page context; sent with every request.
	ContextID  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client sends tokenize requests for one page context.
type Client struct {
	opts Options
	http *http.Client
	log  *zap.Logger
	seq  atomic.Uint64
}

// NewClient creates a client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BatchChars <= 0 {
		opts.BatchChars = DefaultBatchChars
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	c := &Client{opts: opts, http: opts.HTTPClient, log: opts.Logger}
	if c.http == nil {
		c.http = &http.Client{Timeout: opts.Timeout}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

type request struct {
	Text string `json:"text"`
}

type batch struct {
	seq    uint64
	inputs []Input
}

// Tokenize sends spans to the service and reports one Result per span on
// the returned channel, which is closed once every span has been reported.
// Results arrive in completion order, not input order.
func (c *Client) Tokenize(ctx context.Context, spans []Input) <-chan Result {
	out := make(chan Result, len(spans))
	batches := c.batch(spans)

	sem := make(chan struct{}, c.opts.MaxInFlight)
	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			tokens, err := c.send(ctx, b)
			if err == nil {
				err = ctx.Err()
			}
			for i, in := range b.inputs {
				r := Result{SpanID: in.ID, Seq: b.seq, Err: err}
				if err == nil {
					r.Tokens = tokens[i]
				}
				out <- r
			}
		}(b)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// batch groups spans greedily, in order, so that each joined request stays
// within BatchChars. A span longer than the limit travels alone.
func (c *Client) batch(spans []Input) []batch {
	var (
		batches []batch
		cur     []Input
		size    int
	)
	sepLen := utf8.RuneCountInString(Separator)
	for _, s := range spans {
		n := utf8.RuneCountInString(s.Text)
		if len(cur) > 0 && size+sepLen+n > c.opts.BatchChars {
			batches = append(batches, batch{seq: c.seq.Add(1), inputs: cur})
			cur, size = nil, 0
		}
		if len(cur) > 0 {
			size += sepLen
		}
		cur = append(cur, s)
		size += n
	}
	if len(cur) > 0 {
		batches = append(batches, batch{seq: c.seq.Add(1), inputs: cur})
	}
	return batches
}

// send posts one batch, retrying transient failures with exponential
// backoff, and splits the response per span. A malformed body is retried
// once, since a connection cut mid-body looks the same.
func (c *Client) send(ctx context.Context, b batch) ([][]Token, error) {
	texts := make([]string, len(b.inputs))
	for i, in := range b.inputs {
		texts[i] = in.Text
	}
	joined := strings.Join(texts, Separator)

	var (
		lastErr   error
		malformed bool
	)
	delay := c.opts.Backoff
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tokens, err := c.post(ctx, b.seq, joined)
		if err == nil {
			return Split(tokens, texts)
		}
		lastErr = err

		if !retryable(err, &malformed) || attempt == c.opts.MaxAttempts {
			break
		}
		c.log.Debug("tokenize request failed, retrying",
			zap.Uint64("seq", b.seq),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// retryable reports whether err is worth another attempt. malformed records
// that the one retry for an unreadable body has been spent.
func retryable(err error, malformed *bool) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Temporary()
	}
	var me *MalformedResponseError
	if errors.As(err, &me) && !*malformed {
		*malformed = true
		return true
	}
	return false
}

func (c *Client) post(ctx context.Context, seq uint64, text string) ([]Token, error) {
	body, err := json.Marshal(request{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSeq, strconv.FormatUint(seq, 10))
	if c.opts.ContextID != "" {
		req.Header.Set(HeaderContext, c.opts.ContextID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(data)))}
	}

	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	return tokens, nil
}

// Split divides the tokens for texts joined with Separator back into one
// token list per text. The tokens must reproduce the joined input exactly
// and contain one separator token per boundary. A token without a reading
// that spills over a boundary is clipped; a reading-bearing one is an error.
func Split(tokens []Token, texts []string) ([][]Token, error) {
	joined := strings.Join(texts, Separator)

	var sb strings.Builder
	seps := 0
	for _, t := range tokens {
		sb.WriteString(t.Surface)
		if strings.Contains(t.Surface, separatorMark) {
			if strings.TrimSpace(t.Surface) != separatorMark {
				return nil, &TokenCountMismatchError{Reason: fmt.Sprintf("separator merged into token %q", t.Surface)}
			}
			seps++
		}
	}
	if sb.String() != joined {
		return nil, &TokenCountMismatchError{Reason: "tokens do not reproduce the request text"}
	}
	if seps != len(texts)-1 {
		return nil, &TokenCountMismatchError{Reason: fmt.Sprintf("expected %d separators, got %d", len(texts)-1, seps)}
	}

	// Byte ranges of each text within joined.
	starts := make([]int, len(texts))
	off := 0
	for i, t := range texts {
		starts[i] = off
		off += len(t) + len(Separator)
	}

	out := make([][]Token, len(texts))
	pos := 0
	for _, t := range tokens {
		tStart, tEnd := pos, pos+len(t.Surface)
		pos = tEnd
		for i, text := range texts {
			lo, hi := starts[i], starts[i]+len(text)
			if tEnd <= lo || tStart >= hi {
				continue
			}
			if tStart >= lo && tEnd <= hi {
				out[i] = append(out[i], t)
				continue
			}
			if t.Reading != "" {
				return nil, &TokenCountMismatchError{Reason: fmt.Sprintf("token %q crosses a span boundary", t.Surface)}
			}
			a, b := max(tStart, lo), min(tEnd, hi)
			out[i] = append(out[i], Token{Surface: joined[a:b], PartOfSpeech: t.PartOfSpeech})
		}
	}
	return out, nil
}
