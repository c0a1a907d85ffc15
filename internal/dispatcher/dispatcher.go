// Package dispatcher implements the request/retry engine shared by the
// OpenAI, Claude, and Gemini-native handlers: session derivation, model
// routing, the token-acquire/upstream-call/classify attempt loop with
// exponential backoff and per-tier model fallback, and streaming tee-through
// via internal/protocol's incremental encoders.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/protocol"
	"github.com/relaymux/llm-gateway/internal/router"
	"github.com/relaymux/llm-gateway/internal/tokenpool"
	"github.com/relaymux/llm-gateway/internal/upstream"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// maxRetryAttempts bounds an attempt loop independent of pool size, per
// SPEC_FULL.md §4.7 step 4 (`min(3, max(1, poolSize))`).
const maxRetryAttempts = 3

// Dispatcher wires the token pool, model router, and upstream client
// together into the per-protocol handlers.
type Dispatcher struct {
	Pool        *tokenpool.Pool
	Cfg         *config.Config
	Upstream    *upstream.Client
	Mapping     router.ModelMapping
	Passthrough *AnthropicPassthrough
}

func New(pool *tokenpool.Pool, cfg *config.Config, up *upstream.Client, mapping router.ModelMapping) *Dispatcher {
	return &Dispatcher{Pool: pool, Cfg: cfg, Upstream: up, Mapping: mapping, Passthrough: NewAnthropicPassthrough(cfg)}
}

// backoff implements `min(baseMs * 2^n * (1 + jitter), maxMs)` with jitter
// uniform on [-0.1, +0.1].
func backoff(attempt int, baseMs, maxMs int64) time.Duration {
	raw := float64(baseMs) * float64(int64(1)<<uint(attempt))
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	ms := raw * jitter
	if ms > float64(maxMs) {
		ms = float64(maxMs)
	}
	return time.Duration(ms) * time.Millisecond
}

// attemptCount is min(maxRetryAttempts, max(1, poolSize)).
func (d *Dispatcher) attemptCount() int {
	n := len(d.Pool.All())
	if n < 1 {
		n = 1
	}
	if n > maxRetryAttempts {
		n = maxRetryAttempts
	}
	return n
}

// outcome classifies one upstream HTTP status per SPEC_FULL.md §4.7 step 4.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryableRateLimit
	outcomeRetryableServer
	outcomeFatal
)

func classify(status int) outcome {
	switch {
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == 429 || status == 503 || status == 529:
		return outcomeRetryableRateLimit
	case status >= 400 && status < 500:
		return outcomeFatal
	case status >= 500:
		return outcomeRetryableServer
	default:
		return outcomeFatal
	}
}

// requestPlan is everything one attempt needs beyond the model name: the
// envelope body to send and the path to send it on.
type requestPlan struct {
	path string
	body map[string]interface{}
}

// attempt is one iteration's resolved state, threaded through the loop so
// callers can record which account/model actually served the request.
type attempt struct {
	index int
	model string
	token *tokenpool.Token
}

// run drives the shared attempt loop: for each attempt it acquires a
// token, builds the request via buildPlan (re-invoked per attempt so a
// fallback model re-translates the original request), calls upstream, and
// classifies the result. onResult is invoked only on outcomeSuccess; it
// owns result.Body and must close it.
func (d *Dispatcher) run(
	ctx context.Context,
	protocolName, sessionID, initialModel string,
	buildPlan func(model string) (requestPlan, error),
	onResult func(a attempt, result *upstream.Result) error,
) error {
	model := initialModel
	attempts := d.attemptCount()
	var lastErr error

	for i := 0; i < attempts; i++ {
		tok, err := d.Pool.GetToken(ctx, i > 0, sessionID)
		if err != nil {
			lastErr = err
			if !gwerrors.IsRetryable(err) {
				return err
			}
			continue
		}

		plan, err := buildPlan(model)
		if err != nil {
			return err
		}

		env := upstream.Wrap(tok.Account.ProjectID, model, plan.body)
		headers := map[string]string{"Authorization": "Bearer " + tok.AccessToken}

		result, err := d.Upstream.Do(ctx, plan.path, headers, env, isStreamPath(plan.path))
		if err != nil {
			lastErr = err
			if !gwerrors.IsRetryable(err) {
				return err
			}
			d.sleepBackoff(ctx, i)
			continue
		}

		switch classify(result.StatusCode) {
		case outcomeSuccess:
			d.Pool.MarkSuccess(tok.Account.Email)
			return onResult(attempt{index: i, model: model, token: tok}, result)

		case outcomeRetryableRateLimit:
			body := readBody(result.Body, 2000)
			d.Pool.MarkRateLimited(tok.Account.Email, result.StatusCode, result.Header, body)
			lastErr = gwerrors.RateLimit(fmt.Sprintf("upstream %d for %s", result.StatusCode, tok.Account.Email))
			utils.Warn("[dispatcher] %s rate-limited on %s (status %d), rotating account", tok.Account.Email, model, result.StatusCode)

		case outcomeRetryableServer:
			body := readBody(result.Body, 2000)
			lastErr = gwerrors.Wrap(gwerrors.KindServerOverload, fmt.Sprintf("upstream %d", result.StatusCode), fmt.Errorf("%s", body))

		default:
			body := readBody(result.Body, 2000)
			return gwerrors.Wrap(classifyFatalKind(result.StatusCode), fmt.Sprintf("upstream %d", result.StatusCode), fmt.Errorf("%s", body))
		}

		if i < attempts-1 {
			if fallback, ok := router.GetFallbackModel(model); ok {
				utils.Info("[dispatcher] falling back from %s to %s for %s", model, fallback, protocolName)
				model = fallback
			}
			d.sleepBackoff(ctx, i)
		}
	}

	if lastErr == nil {
		lastErr = gwerrors.ServerOverload("retry attempts exhausted")
	}
	return lastErr
}

func (d *Dispatcher) sleepBackoff(ctx context.Context, attemptIndex int) {
	wait := backoff(attemptIndex, d.Cfg.RetryBaseMs, d.Cfg.RetryMaxMs)
	_ = utils.Sleep(ctx, wait.Milliseconds())
}

func classifyFatalKind(status int) gwerrors.Kind {
	switch status {
	case http.StatusUnauthorized:
		return gwerrors.KindUnauthorized
	case http.StatusForbidden:
		return gwerrors.KindForbidden
	case http.StatusNotFound:
		return gwerrors.KindNotFound
	default:
		return gwerrors.KindInvalidRequest
	}
}

func isStreamPath(path string) bool {
	const suffix = "alt=sse"
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}

// readBody drains up to max bytes of an error body for classification/
// cooldown logging, then closes it. Upstream error bodies are small JSON
// objects; truncating avoids holding an unbounded body in memory.
func readBody(rc io.ReadCloser, max int) string {
	defer rc.Close()
	buf := make([]byte, max)
	n, _ := io.ReadFull(rc, buf)
	return string(buf[:n])
}

// decodeUnary reads one complete JSON response body and unwraps it into a
// protocol.GoogleResponse.
func decodeUnary(body io.ReadCloser) (*protocol.GoogleResponse, error) {
	defer body.Close()
	var raw map[string]interface{}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, gwerrors.MappingError("decode upstream response: %v", err)
	}
	return protocol.GoogleResponseFromMap(upstream.Unwrap(raw)), nil
}
