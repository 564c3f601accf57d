package pdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string, opts Options) ([]byte, error)
}

// ChromeRenderer drives one shared headless Chrome process. Each render gets
// its own tab.
type ChromeRenderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	logger      *zap.Logger
}

// NewChromeRenderer starts the browser allocator. execPath may be empty to
// let chromedp locate Chrome.
func NewChromeRenderer(execPath string, timeout time.Duration, logger *zap.Logger) *ChromeRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeRenderer{allocCtx: allocCtx, allocCancel: cancel, timeout: timeout, logger: logger}
}

// Render implements Renderer.
func (r *ChromeRenderer) Render(ctx context.Context, html string, opts Options) ([]byte, error) {
	l, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(r.allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	start := time.Now()
	var out []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPaperWidth(l.paperWidth).
				WithPaperHeight(l.paperHeight).
				WithMarginTop(l.marginTop).
				WithMarginRight(l.marginRight).
				WithMarginBottom(l.marginBottom).
				WithMarginLeft(l.marginLeft).
				WithPrintBackground(l.printBackground).
				WithLandscape(l.landscape).
				WithScale(l.scale).
				Do(ctx)
			out = buf
			return err
		}),
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	r.logger.Debug("pdf rendered", zap.Int("bytes", len(out)), zap.Duration("took", time.Since(start)))
	return out, nil
}

// Close stops the browser.
func (r *ChromeRenderer) Close() {
	r.allocCancel()
}

var _ Renderer = (*ChromeRenderer)(nil)
