package generation

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Orchestrator fans a request across its backends in order, normalizes and
// dedupes whatever comes back and caps the result at the requested count.
// A backend failure only fails the run when no backend produced anything.
type Orchestrator struct {
	backends []Backend
	timeout  time.Duration
}

func NewOrchestrator(backends ...Backend) *Orchestrator {
	return &Orchestrator{backends: backends, timeout: attemptTimeout()}
}

func attemptTimeout() time.Duration {
	secs := 90
	if v := os.Getenv("GENERATION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			secs = n
		}
	}
	return time.Duration(secs) * time.Second
}

// ModelUsed names the backend chain for quiz metadata.
func (o *Orchestrator) ModelUsed() string {
	names := make([]string, 0, len(o.backends))
	for _, b := range o.backends {
		names = append(names, b.Name())
	}
	return strings.Join(names, "+")
}

// Generate runs one attempt under the per-attempt deadline and retries once
// when that attempt times out. Fewer questions than requested is a success;
// zero questions is ErrGenerationFailed.
func (o *Orchestrator) Generate(ctx context.Context, req Request) ([]Question, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	qs, err := o.attempt(ctx, req)
	if errors.Is(err, ErrTimeout) {
		log.Printf("[generation] attempt timed out after %s, retrying once", o.timeout)
		qs, err = o.attempt(ctx, req)
	}
	return qs, err
}

func (o *Orchestrator) attempt(ctx context.Context, req Request) ([]Question, error) {
	actx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var out []Question
	seen := map[string]bool{}
	for _, b := range o.backends {
		raws, err := b.Generate(actx, req)
		if err != nil {
			// A canceled parent means the caller is gone; retrying would
			// only burn an API call nobody is waiting for.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if actx.Err() != nil {
				if len(out) > 0 {
					return out, nil
				}
				return nil, ErrTimeout
			}
			log.Printf("[generation] backend=%s failed: %v", b.Name(), err)
			continue
		}
		for _, raw := range raws {
			q, ok := normalize(raw, req)
			if !ok {
				continue
			}
			key := dedupeKey(q.QuestionText)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, q)
			if len(out) == req.Count {
				return out, nil
			}
		}
	}
	if len(out) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if actx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, ErrGenerationFailed
	}
	return out, nil
}
