package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// TranscriptClient consumes the already-transcribed output of the real-time
// audio pipeline (source B). Segments arrive in the same canonical speech
// shape plus a transcription confidence score.
type TranscriptClient struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

var _ ports.Fetcher = (*TranscriptClient)(nil)

// NewTranscriptClient wires an HTTP client; pageSize defaults to 100.
func NewTranscriptClient(baseURL string, pageSize int, client *http.Client) *TranscriptClient {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &TranscriptClient{baseURL: baseURL, pageSize: pageSize, client: client}
}

// Name identifies the source for routing and alias rows.
func (t *TranscriptClient) Name() string { return "transcript" }

type transcriptResponse struct {
	Segments []transcriptSegment `json:"segments"`
	HasMore  bool                `json:"has_more"`
	Next     int                 `json:"next_offset"`
}

type transcriptSegment struct {
	MeetingID  string  `json:"meeting_id"`
	Session    int     `json:"session"`
	Chamber    string  `json:"chamber"`
	Committee  string  `json:"committee"`
	Date       string  `json:"date"`
	Order      int     `json:"order"`
	Speaker    string  `json:"speaker"`
	Party      string  `json:"party"`
	Text       string  `json:"text"`
	SpokenAt   string  `json:"spoken_at"`
	Confidence float64 `json:"confidence"`
	ItemID     string  `json:"item_id"`
	ItemStage  string  `json:"item_stage"`
}

// Fetch retrieves one page of transcript segments for the date range.
func (t *TranscriptClient) Fetch(ctx context.Context, q domain.FetchQuery) (domain.FetchPage, error) {
	pageURL, err := t.buildURL(q)
	if err != nil {
		return domain.FetchPage{}, domain.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.FetchPage{}, domain.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.FetchPage{}, domain.Transient(fmt.Errorf("request transcript page: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.FetchPage{}, classifyStatus(resp)
	}

	var body transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.FetchPage{}, domain.Permanent(fmt.Errorf("decode transcript response: %w", err))
	}

	page := domain.FetchPage{
		Records:   make([]domain.RawRecord, 0, len(body.Segments)),
		NextStart: body.Next,
		HasMore:   body.HasMore,
	}
	for _, seg := range body.Segments {
		page.Records = append(page.Records, domain.RawRecord{
			Source: t.Name(),
			Kind:   domain.RawKindSpeech,
			Fields: map[string]string{
				"meeting_id": seg.MeetingID,
				"session":    strconv.Itoa(seg.Session),
				"chamber":    seg.Chamber,
				"committee":  seg.Committee,
				"date":       seg.Date,
				"order":      strconv.Itoa(seg.Order),
				"speaker":    seg.Speaker,
				"party":      seg.Party,
				"text":       seg.Text,
				"timestamp":  seg.SpokenAt,
				"confidence": strconv.FormatFloat(seg.Confidence, 'f', -1, 64),
			},
		})
		if seg.ItemID != "" && seg.ItemStage != "" {
			page.Records = append(page.Records, domain.RawRecord{
				Source: t.Name(),
				Kind:   domain.RawKindItem,
				Fields: map[string]string{
					"item_id":   seg.ItemID,
					"stage":     seg.ItemStage,
					"timestamp": seg.SpokenAt,
				},
			})
		}
	}

	return page, nil
}

func (t *TranscriptClient) buildURL(q domain.FetchQuery) (string, error) {
	parsed, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid transcript base url %s: %w", t.baseURL, err)
	}

	query := parsed.Query()
	query.Set("from", q.From.Format(time.RFC3339))
	query.Set("to", q.To.Format(time.RFC3339))
	query.Set("offset", strconv.Itoa(q.StartRecord))
	query.Set("limit", strconv.Itoa(t.pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
