// Package upstream holds the raw HTTP clients for the two proceedings
// sources. Clients fetch one page per call and classify failures into the
// transient/permanent taxonomy; rate limiting and retry live in the
// connector wrapper.
package upstream

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
)

const defaultPageSize = 100

// classifyStatus maps an HTTP response status to the error taxonomy:
// 429 and 5xx are transient (429 carrying any Retry-After hint), other
// non-2xx statuses are permanent.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("upstream rate limited: %s", resp.Status)
		if after := retryAfter(resp); after > 0 {
			return domain.TransientAfter(err, after)
		}
		return domain.Transient(err)
	case resp.StatusCode >= http.StatusInternalServerError:
		return domain.Transient(fmt.Errorf("upstream error: %s", resp.Status))
	default:
		return domain.Permanent(fmt.Errorf("upstream rejected request: %s", resp.Status))
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
