package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/chromedp/chromedp"

	"github.com/chaos-io/imageapp/util/crawler"
)

// BrowserOptions 生成页面的地址和元素选择器
type BrowserOptions struct {
	URL            string
	PromptSelector string
	SubmitSelector string
	ResultSelector string
	// ImageMatch 回退扫描页面时，只接受包含该子串的图片地址
	ImageMatch string
	ChromePath string
	Headless   bool
}

// Browser 用 headless Chrome 驱动生成页面，每次生成开一个新标签页
type Browser struct {
	opts        BrowserOptions
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
}

func allocatorOptions(opts BrowserOptions) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
	)
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}
	return allocOpts
}

// NewBrowser 启动浏览器进程
func NewBrowser(opts BrowserOptions) (*Browser, error) {
	if opts.URL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("parse generator url: %w", err)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// 空 Run 会拉起浏览器
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	slog.Info("browser started", "url", opts.URL, "headless", opts.Headless)

	return &Browser{
		opts:        opts,
		cancelAlloc: cancelAlloc,
		browserCtx:  browserCtx,
		cancel:      cancel,
	}, nil
}

func (b *Browser) Generate(ctx context.Context, prompt string) (string, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		src      string
		hasSrc   bool
		location string
	)
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(b.opts.URL),
		chromedp.WaitVisible(b.opts.PromptSelector, chromedp.ByQuery),
		chromedp.SendKeys(b.opts.PromptSelector, prompt, chromedp.ByQuery),
		chromedp.Click(b.opts.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(b.opts.ResultSelector, chromedp.ByQuery),
		chromedp.AttributeValue(b.opts.ResultSelector, "src", &src, &hasSrc, chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("drive generator page: %w", err)
	}

	base, err := url.Parse(location)
	if err != nil {
		base = nil
	}
	if hasSrc && src != "" {
		return resolve(base, src), nil
	}

	// 结果元素没有 src 时扫描整个页面
	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read generator page: %w", err)
	}
	return firstImageURL([]byte(html), base, b.opts.ImageMatch), nil
}

func (b *Browser) Close() error {
	if b.cancel == nil {
		return errors.New("browser already closed")
	}
	b.cancel()
	b.cancelAlloc()
	b.cancel = nil
	return nil
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func firstImageURL(html []byte, base *url.URL, match string) string {
	urls := crawler.ExtractImageURLs(html, base, match)
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
