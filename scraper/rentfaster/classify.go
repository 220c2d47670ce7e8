package rentfaster

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"rental-scraper/models"
)

// challengeMarkers are lowercase fragments seen on anti-bot interstitials.
var challengeMarkers = []string{
	"verify you are human",
	"checking your browser",
	"cf-browser-verification",
	"attention required! | cloudflare",
	"just a moment...",
}

// ChallengeMarker returns the first challenge marker found in text.
func ChallengeMarker(text string) (string, bool) {
	lower := lowerTrim(text)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	// A bare "cloudflare" only counts on short pages; listings mention
	// it in footers and script URLs.
	if len(lower) < 4096 && strings.Contains(lower, "cloudflare") {
		return "cloudflare", true
	}
	return "", false
}

// Classify maps the outcome of one fetch attempt to nil (success) or an
// error from the taxonomy. Retryable errors satisfy models.IsRetryable.
func Classify(url string, page *Page, err error) error {
	if err != nil {
		var nf *models.NetworkFailure
		if errors.As(err, &nf) {
			return err
		}
		// Timeouts, connection resets and DNS errors are all worth another try.
		return &models.NetworkFailure{URL: url, Retryable: true, Err: err}
	}
	if page == nil {
		return &models.NetworkFailure{URL: url, Retryable: true, Err: errors.New("no response")}
	}

	switch {
	case page.Status == http.StatusForbidden:
		marker, _ := ChallengeMarker(page.Markup)
		if marker == "" {
			marker = "http 403"
		}
		return &models.ChallengePage{URL: url, Marker: marker}
	case page.Status == http.StatusTooManyRequests, page.Status >= 500:
		return &models.NetworkFailure{URL: url, Status: page.Status, Retryable: true}
	case page.Status >= 400:
		return &models.NetworkFailure{URL: url, Status: page.Status, Retryable: false}
	}

	if marker, ok := ChallengeMarker(page.Markup); ok {
		return &models.ChallengePage{URL: url, Marker: marker}
	}
	if strings.TrimSpace(page.Markup) == "" {
		return &models.NetworkFailure{URL: url, Status: page.Status, Retryable: true, Err: errors.New("empty document")}
	}
	return nil
}

// isTimeout reports whether err came from a per-request deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
