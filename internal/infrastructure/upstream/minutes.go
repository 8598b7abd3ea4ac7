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

// MinutesClient queries the historical full-text proceedings API (source A).
// The API is paginated by start record and queried by date range; responses
// carry the meeting id, speaker name and affiliation, full speech text and
// timestamp.
type MinutesClient struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

var _ ports.Fetcher = (*MinutesClient)(nil)

// NewMinutesClient wires an HTTP client; pageSize defaults to 100.
func NewMinutesClient(baseURL string, pageSize int, client *http.Client) *MinutesClient {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &MinutesClient{baseURL: baseURL, pageSize: pageSize, client: client}
}

// Name identifies the source for routing and alias rows.
func (m *MinutesClient) Name() string { return "minutes" }

type minutesResponse struct {
	NumberOfRecords    int             `json:"numberOfRecords"`
	NextRecordPosition int             `json:"nextRecordPosition"`
	SpeechRecords      []minutesRecord `json:"speechRecord"`
}

type minutesRecord struct {
	MeetingID     string `json:"issueID"`
	Session       string `json:"session"`
	Chamber       string `json:"nameOfHouse"`
	Committee     string `json:"nameOfMeeting"`
	Date          string `json:"date"`
	SpeechOrder   string `json:"speechOrder"`
	Speaker       string `json:"speaker"`
	SpeakerGroup  string `json:"speakerGroup"`
	Speech        string `json:"speech"`
	BillID        string `json:"billID"`
	BillStage     string `json:"billStage"`
	RecordedAt    string `json:"speechDateTime"`
}

// Fetch retrieves one page of speech records for the date range.
func (m *MinutesClient) Fetch(ctx context.Context, q domain.FetchQuery) (domain.FetchPage, error) {
	pageURL, err := m.buildURL(q)
	if err != nil {
		return domain.FetchPage{}, domain.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.FetchPage{}, domain.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return domain.FetchPage{}, domain.Transient(fmt.Errorf("request minutes page: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.FetchPage{}, classifyStatus(resp)
	}

	var body minutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.FetchPage{}, domain.Permanent(fmt.Errorf("decode minutes response: %w", err))
	}

	page := domain.FetchPage{
		Records:   make([]domain.RawRecord, 0, len(body.SpeechRecords)),
		NextStart: body.NextRecordPosition,
		HasMore:   body.NextRecordPosition > 0,
	}
	for _, rec := range body.SpeechRecords {
		page.Records = append(page.Records, domain.RawRecord{
			Source: m.Name(),
			Kind:   domain.RawKindSpeech,
			Fields: map[string]string{
				"meeting_id": rec.MeetingID,
				"session":    rec.Session,
				"chamber":    rec.Chamber,
				"committee":  rec.Committee,
				"date":       rec.Date,
				"order":      rec.SpeechOrder,
				"speaker":    rec.Speaker,
				"party":      rec.SpeakerGroup,
				"text":       rec.Speech,
				"timestamp":  rec.RecordedAt,
			},
		})
		if rec.BillID != "" && rec.BillStage != "" {
			page.Records = append(page.Records, domain.RawRecord{
				Source: m.Name(),
				Kind:   domain.RawKindItem,
				Fields: map[string]string{
					"item_id":   rec.BillID,
					"stage":     rec.BillStage,
					"timestamp": rec.RecordedAt,
				},
			})
		}
	}

	return page, nil
}

func (m *MinutesClient) buildURL(q domain.FetchQuery) (string, error) {
	parsed, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid minutes base url %s: %w", m.baseURL, err)
	}

	start := q.StartRecord
	if start <= 0 {
		start = 1
	}

	query := parsed.Query()
	query.Set("from", q.From.Format("2006-01-02"))
	query.Set("until", q.To.Format("2006-01-02"))
	query.Set("startRecord", strconv.Itoa(start))
	query.Set("maximumRecords", strconv.Itoa(m.pageSize))
	query.Set("recordPacking", "json")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
