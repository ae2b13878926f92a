// Package stealth hides the most common signs that the browser is driven by
// automation, so search engines and login pages behave as they do for people.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate. Empty fields are
// left at Chrome's own values.
type Persona struct {
	UserAgent string
	Locale    string
	Timezone  string
}

// DefaultUserAgent is a desktop Chrome string without the "Headless" token.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// PersonaFrom reads the persona from the browser config. Headless Chrome
// advertises itself in its user agent, so headless sessions always get one.
func PersonaFrom(cfg config.BrowserConfig) Persona {
	p := Persona{
		UserAgent: cfg.UserAgent,
		Locale:    cfg.Locale,
		Timezone:  cfg.Timezone,
	}
	if p.UserAgent == "" && cfg.Headless {
		p.UserAgent = DefaultUserAgent
	}
	return p
}

// AcceptLanguage builds the header value for a locale, e.g. "nb-NO" gives
// "nb-NO,nb;q=0.9".
func AcceptLanguage(locale string) string {
	if locale == "" {
		return ""
	}
	lang, _, found := strings.Cut(locale, "-")
	if !found || lang == "" {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, lang)
}

// Apply returns the CDP actions that install the persona on the current tab.
// The evasions script is registered for every new document, so it must run
// before the first navigation.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}

	if p.UserAgent != "" {
		override := emulation.SetUserAgentOverride(p.UserAgent)
		if lang := AcceptLanguage(p.Locale); lang != "" {
			override = override.WithAcceptLanguage(lang)
		}
		tasks = append(tasks, override)
	}
	if p.Locale != "" {
		tasks = append(tasks,
			emulation.SetLocaleOverride().WithLocale(p.Locale),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": AcceptLanguage(p.Locale)}),
		)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	return tasks
}
