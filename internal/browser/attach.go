// File: internal/browser/attach.go
// Description: Attaches an external CDP driver to the automation endpoint of
// a started profile. The website flow itself lives outside this repository;
// this package only proves the endpoint is alive and hands the session to
// the injected flow driver.
package browser

import (
	"context"
	"fmt"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/api/schemas"
)

// DefaultAttachTimeout bounds the liveness probe after connecting.
const DefaultAttachTimeout = 10 * time.Second

// Session is one live connection to a started profile's browser.
type Session struct {
	endpoint  schemas.AutomationEndpoint
	logger    *zap.Logger
	userAgent string

	ctx     context.Context
	cancels []context.CancelFunc
}

// Attach connects to the profile's DevTools websocket and verifies the
// browser answers. The returned Session must be closed by the caller; Close
// only detaches, it never kills the remote browser (stopping the profile is
// the provisioner's job).
func Attach(ctx context.Context, endpoint *schemas.AutomationEndpoint, attachTimeout time.Duration, logger *zap.Logger) (*Session, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("browser: nil automation endpoint")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if attachTimeout <= 0 {
		attachTimeout = DefaultAttachTimeout
	}
	log := logger.With(zap.String("component", "browser"),
		zap.String("endpoint", endpoint.WebSocketURL()))

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, endpoint.WebSocketURL(), chromedp.NoModifyURL)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	cancels := []context.CancelFunc{taskCancel, allocCancel}

	// Liveness probe: ask the browser for its version over the fresh
	// connection. Failure here means the endpoint the provider reported is
	// not actually serving CDP.
	var userAgent string
	probeCtx, probeCancel := context.WithTimeout(taskCtx, attachTimeout)
	defer probeCancel()
	err := chromedp.Run(probeCtx, chromedp.ActionFunc(func(actx context.Context) error {
		_, product, _, ua, _, verr := cdpbrowser.GetVersion().Do(actx)
		if verr != nil {
			return verr
		}
		userAgent = ua
		log.Debug("Attached to browser.", zap.String("product", product))
		return nil
	}))
	if err != nil {
		for _, cancel := range cancels {
			cancel()
		}
		return nil, fmt.Errorf("browser: attach to %s: %w", endpoint.WebSocketURL(), err)
	}

	log.Info("Browser session attached.")
	return &Session{
		endpoint:  *endpoint,
		logger:    log,
		userAgent: userAgent,
		ctx:       taskCtx,
		cancels:   cancels,
	}, nil
}

// UserAgent returns the user agent the attached browser reported during the
// liveness probe. Useful for confirming the fingerprint took effect.
func (s *Session) UserAgent() string { return s.userAgent }

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(url string) error {
	if err := chromedp.Run(s.ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return nil
}

// Run executes arbitrary chromedp actions against the session. The flow
// driver scripts the website through this.
func (s *Session) Run(actions ...chromedp.Action) error {
	return chromedp.Run(s.ctx, actions...)
}

// Close detaches from the browser. Idempotent.
func (s *Session) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}
