package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amiskov/csrf-session-client/pkg/logger"
	"github.com/amiskov/csrf-session-client/pkg/transport"
)

type Shape int

const (
	Any Shape = iota
	// List is a JSON array, or an object with an array under "data".
	List
	Object
)

var (
	ErrUnexpectedStatus = errors.New("probe: unexpected status")
	ErrUnexpectedShape  = errors.New("probe: unexpected body shape")
)

type Probe struct {
	Method string
	Path   string
	Expect int
	Shape  Shape
}

func (p Probe) String() string {
	return p.Method + " " + p.Path
}

func DefaultProbes() []Probe {
	return []Probe{
		{Method: http.MethodGet, Path: "/api/admin/users?page=1&limit=10", Expect: http.StatusOK, Shape: List},
		{Method: http.MethodGet, Path: "/api/admin/companies", Expect: http.StatusOK, Shape: List},
		{Method: http.MethodGet, Path: "/api/admin/departments", Expect: http.StatusOK, Shape: List},
		{Method: http.MethodGet, Path: "/api/dashboard/company-admin", Expect: http.StatusOK, Shape: Object},
	}
}

// Parse reads "METHOD /path". A bare path means GET. Parsed probes expect
// 200 and any body.
func Parse(s string) (Probe, error) {
	fields := strings.Fields(s)
	p := Probe{Method: http.MethodGet, Expect: http.StatusOK}
	switch len(fields) {
	case 1:
		p.Path = fields[0]
	case 2:
		p.Method = strings.ToUpper(fields[0])
		p.Path = fields[1]
	default:
		return Probe{}, fmt.Errorf("probe: can't parse `%s`, want `METHOD /path`", s)
	}
	if !strings.HasPrefix(p.Path, "/") {
		return Probe{}, fmt.Errorf("probe: path `%s` must start with /", p.Path)
	}
	return p, nil
}

type Result struct {
	Probe   Probe
	Status  int
	Elapsed time.Duration
	Err     error
}

func (r Result) OK() bool {
	return r.Err == nil
}

type iCaller interface {
	Call(ctx context.Context, method, path string, opts transport.Options) (*transport.Response, error)
}

type Runner struct {
	caller      iCaller
	concurrency int
}

func NewRunner(c iCaller, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		caller:      c,
		concurrency: concurrency,
	}
}

// Run executes every probe, at most concurrency at a time. Results come
// back in the order of probes; a failing probe never stops the others.
func (r *Runner) Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	g := errgroup.Group{}
	g.SetLimit(r.concurrency)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			results[i] = r.runOne(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) runOne(ctx context.Context, p Probe) Result {
	start := time.Now()
	res := Result{Probe: p}

	path, query := splitQuery(p.Path)
	resp, err := r.caller.Call(ctx, p.Method, path, transport.Options{Query: query})
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Err = err
		logger.Log(ctx).Errorf("probe: %s failed, %v", p, err)
		return res
	}

	res.Status = resp.StatusCode
	if p.Expect != 0 && resp.StatusCode != p.Expect {
		res.Err = fmt.Errorf("%w: %s answered %d, want %d: %s", ErrUnexpectedStatus, p, resp.StatusCode, p.Expect, resp.Snippet(200))
	} else if err := checkShape(resp.Body, p.Shape); err != nil {
		res.Err = fmt.Errorf("%w: %s, %v", ErrUnexpectedShape, p, err)
	}

	if res.Err != nil {
		logger.Log(ctx).Warnf("%v", res.Err)
	} else {
		logger.Log(ctx).Debugf("probe: %s -> %d in %s", p, res.Status, res.Elapsed)
	}
	return res
}

func splitQuery(p string) (string, url.Values) {
	path, raw, found := strings.Cut(p, "?")
	if !found {
		return path, nil
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return p, nil
	}
	return path, q
}

func checkShape(body []byte, s Shape) error {
	if s == Any {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("body is not json, %v", err)
	}
	switch s {
	case List:
		switch t := v.(type) {
		case []interface{}:
			return nil
		case map[string]interface{}:
			if _, ok := t["data"].([]interface{}); ok {
				return nil
			}
		}
		return errors.New("want a list or an object with a data list")
	case Object:
		if _, ok := v.(map[string]interface{}); ok {
			return nil
		}
		return errors.New("want an object")
	}
	return nil
}
