// Package session drives the storefront sign-in flow and the one-shot
// captcha handoff that may interrupt it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hugoheadquarter/amazon-insights-scraper/internal/browser"
	"github.com/hugoheadquarter/amazon-insights-scraper/internal/scrapeerr"
)

// Credentials for the storefront account the scraper signs in as.
type Credentials struct {
	Email    string
	Password string
}

// Session describes an authenticated browser page.
type Session struct {
	Authenticated bool
	StartedAt     time.Time
}

// Solver turns a captcha image URL into its text answer. Implementations
// call an external solving service.
type Solver interface {
	Solve(ctx context.Context, imageURL string) (string, error)
}

// Manager performs the sign-in sequence on a page. The sequence is fixed:
// home page, account menu, email, continue, password, submit. A captcha
// interstitial gets exactly one solve-and-resubmit attempt.
type Manager struct {
	baseURL string
	creds   Credentials
	solver  Solver
	logger  *slog.Logger
}

func NewManager(baseURL string, creds Credentials, solver Solver) *Manager {
	return &Manager{
		baseURL: baseURL,
		creds:   creds,
		solver:  solver,
		logger:  slog.Default().With("component", "session"),
	}
}

// Authenticate signs the page in. Any failure in the fixed sequence is an
// auth error; the caller should not retry with the same credentials.
func (m *Manager) Authenticate(ctx context.Context, page browser.Page) (*Session, error) {
	m.logger.Info("starting sign-in", "base_url", m.baseURL)

	if err := page.Navigate(m.baseURL); err != nil {
		return nil, scrapeerr.NewAuth("sign-in", "navigate home", err)
	}

	if caught, err := m.interceptCaptcha(ctx, page); err != nil {
		return nil, err
	} else if caught {
		m.logger.Info("captcha cleared before sign-in")
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"open account menu", func() error { return page.Click("a#nav-link-accountList") }},
		{"wait for email field", func() error { return page.WaitFor("#ap_email") }},
		{"fill email", func() error { return page.Fill("#ap_email", m.creds.Email) }},
		{"continue", func() error { return page.Click("#continue") }},
		{"wait for password field", func() error { return page.WaitFor("#ap_password") }},
		{"fill password", func() error { return page.Fill("#ap_password", m.creds.Password) }},
		{"submit", func() error { return page.Click("#signInSubmit") }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, scrapeerr.Categorize(err, "sign-in", step.name)
		}
		if err := step.run(); err != nil {
			return nil, scrapeerr.NewAuth("sign-in", step.name, err)
		}
	}

	if caught, err := m.interceptCaptcha(ctx, page); err != nil {
		return nil, err
	} else if caught {
		m.logger.Info("captcha cleared after sign-in")
	}

	if isCaptchaPage(page) {
		return nil, scrapeerr.NewAuth("sign-in", "verify session", fmt.Errorf("captcha persisted after solve attempt"))
	}

	m.logger.Info("sign-in complete")
	return &Session{Authenticated: true, StartedAt: time.Now()}, nil
}

// interceptCaptcha checks whether the page landed on a captcha interstitial
// and, if so, makes exactly one solve-and-resubmit attempt. It reports
// whether a captcha was encountered.
func (m *Manager) interceptCaptcha(ctx context.Context, page browser.Page) (bool, error) {
	if !isCaptchaPage(page) {
		return false, nil
	}

	m.logger.Warn("captcha interstitial detected", "url", page.URL())

	if m.solver == nil {
		return true, scrapeerr.New(scrapeerr.Captcha, "sign-in", "solve captcha",
			fmt.Errorf("no solver configured"))
	}

	imageURL, found, err := page.Attribute(`img[src*="captcha"]`, "src")
	if err != nil {
		return true, scrapeerr.New(scrapeerr.Captcha, "sign-in", "locate captcha image", err)
	}
	if !found {
		return true, scrapeerr.New(scrapeerr.Captcha, "sign-in", "locate captcha image",
			fmt.Errorf("captcha page without captcha image"))
	}

	answer, err := m.solver.Solve(ctx, imageURL)
	if err != nil {
		return true, scrapeerr.New(scrapeerr.Captcha, "sign-in", "solve captcha", err)
	}

	if err := page.Fill(`input[name="field-keywords"]`, answer); err != nil {
		return true, scrapeerr.New(scrapeerr.Captcha, "sign-in", "fill captcha answer", err)
	}
	if err := page.Click(`button[type="submit"]`); err != nil {
		return true, scrapeerr.New(scrapeerr.Captcha, "sign-in", "submit captcha answer", err)
	}

	if isCaptchaPage(page) {
		return true, scrapeerr.NewAuth("sign-in", "solve captcha", fmt.Errorf("captcha not cleared by solver answer"))
	}

	return true, nil
}

func isCaptchaPage(page browser.Page) bool {
	return strings.Contains(strings.ToLower(page.URL()), "captcha")
}
