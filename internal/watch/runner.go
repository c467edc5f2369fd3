// Package watch runs the dashboard poller headless and prints the view as
// text.
package watch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/okian/torturbo/internal/adapters/statusapi"
	"github.com/okian/torturbo/internal/dashboard"
	"github.com/okian/torturbo/pkg/logger"
)

// Run polls cfg.URL and writes the rendered view to out. With cfg.Once it
// polls a single time and returns ErrPollFailed when that poll failed.
// Otherwise it re-renders on every change until ctx is canceled.
func Run(ctx context.Context, cfg *Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts := []statusapi.Option{statusapi.WithTimeout(cfg.Timeout)}
	if cfg.Proxy != "" {
		opts = append(opts, statusapi.WithSOCKS5(cfg.Proxy))
	}
	client, err := statusapi.NewClient(cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return run(ctx, cfg, client, out)
}

func run(ctx context.Context, cfg *Config, f dashboard.Fetcher, out io.Writer) error {
	log := logger.Get().Named("watch")
	p, err := dashboard.NewPoller(f,
		dashboard.WithInterval(cfg.Interval),
		dashboard.WithRequestTimeout(cfg.Timeout),
		dashboard.WithLogger(log.Named("poller")),
	)
	if err != nil {
		return err
	}

	if cfg.Once {
		v := p.PollNow(ctx)
		if err := dashboard.RenderText(out, v); err != nil {
			return err
		}
		if v.State != dashboard.StateReady {
			return fmt.Errorf("%w: %s", ErrPollFailed, v.ErrorText())
		}
		return nil
	}

	log.Info(ctx, "watching status",
		logger.String("url", cfg.URL),
		logger.Duration("interval", cfg.Interval),
	)
	views, cancel := p.Subscribe(1)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	pr := &printer{out: out}
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if err := pr.print(v); err != nil {
				return err
			}
		}
	}
}

// printer writes a view only when its text differs from the last one.
type printer struct {
	out  io.Writer
	last []byte
}

func (pr *printer) print(v dashboard.View) error {
	var buf bytes.Buffer
	if err := dashboard.RenderText(&buf, v); err != nil {
		return err
	}
	if pr.last != nil && bytes.Equal(buf.Bytes(), pr.last) {
		return nil
	}
	pr.last = buf.Bytes()

	header := "-- " + dashboard.DefaultTitle
	if !v.UpdatedAt.IsZero() {
		header += " @ " + v.UpdatedAt.Local().Format(time.TimeOnly)
	}
	if v.Err != nil {
		header += " (last poll failed: " + v.ErrorText() + ")"
	}
	if _, err := fmt.Fprintln(pr.out, header); err != nil {
		return fmt.Errorf("write view: %w", err)
	}
	if _, err := pr.out.Write(pr.last); err != nil {
		return fmt.Errorf("write view: %w", err)
	}
	return nil
}
