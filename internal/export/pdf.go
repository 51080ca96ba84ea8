package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var chromeBinaries = []string{"chromium", "chromium-browser", "google-chrome-stable", "google-chrome"}

// Profile pages print on A5 so the single column reads like the phone view.
const (
	paperWidthIn  = 5.83
	paperHeightIn = 8.27
	marginIn      = 0.4
	printTimeout  = 30 * time.Second
)

func findChrome(explicit string) (string, error) {
	if explicit != "" {
		if path, err := exec.LookPath(explicit); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s not found", ErrPDFDependencyMissing, explicit)
	}
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium or chrome on PATH", ErrPDFDependencyMissing)
}

// chromePrinter returns a renderer that loads html into a blank tab of a
// headless browser and prints it.
func chromePrinter(chromePath string) func(ctx context.Context, html string) ([]byte, error) {
	return func(ctx context.Context, html string) ([]byte, error) {
		chrome, err := findChrome(chromePath)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(ctx, printTimeout)
		defer cancel()
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(chrome),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.Flag("disable-dev-shm-usage", true),
		)...)
		defer cancelAlloc()
		tabCtx, cancelTab := chromedp.NewContext(allocCtx)
		defer cancelTab()

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
				data, _, err := page.PrintToPDF().
					WithPrintBackground(true).
					WithPaperWidth(paperWidthIn).
					WithPaperHeight(paperHeightIn).
					WithMarginTop(marginIn).
					WithMarginBottom(marginIn).
					WithMarginLeft(marginIn).
					WithMarginRight(marginIn).
					Do(ctx)
				out = data
				return err
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("print pdf: %w", err)
		}
		return out, nil
	}
}

// sanitizeFilename turns a display name into a download name: runs of
// whitespace become one dash, anything outside letters, digits, dash and
// underscore is dropped.
func sanitizeFilename(title string) string {
	name := strings.Join(strings.Fields(title), "-")
	name = strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return r
		}
		return -1
	}, name)
	name = strings.Trim(name, "-")
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		return "profile"
	}
	return name
}
