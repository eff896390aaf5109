package chromedp

import (
	"context"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
)

// Fetch renders a page in headless Chrome and returns its outer HTML. It is
// meant for index pages whose article list is built client side.
type Fetch struct {
	UserAgent string
}

func (f Fetch) Fetch(ctx context.Context, req models.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	html, err := fetchHTML(ctx, req.URL, f.UserAgent, req.Headers)
	if err != nil {
		return "", &failure.NetworkError{URL: req.URL, Cause: err}
	}
	return html, nil
}

func fetchHTML(ctx context.Context, url, userAgent string, headers map[string]string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		setHeaders(headers),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func setHeaders(headers map[string]string) chromedp.Action {
	if len(headers) == 0 {
		return chromedp.ActionFunc(func(context.Context) error { return nil })
	}
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(h),
	}
}
