package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
)

func minutesQuery() domain.FetchQuery {
	return domain.FetchQuery{
		From: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestMinutesFetchParsesPage(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"from":           r.URL.Query().Get("from"),
			"until":          r.URL.Query().Get("until"),
			"startRecord":    r.URL.Query().Get("startRecord"),
			"maximumRecords": r.URL.Query().Get("maximumRecords"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"numberOfRecords": 150,
			"nextRecordPosition": 101,
			"speechRecord": [{
				"issueID": "M-217-yosan-12",
				"session": "217",
				"nameOfHouse": "衆議院",
				"nameOfMeeting": "予算委員会",
				"date": "2025-03-10",
				"speechOrder": "1",
				"speaker": "山田太郎",
				"speech": "これより会議を開きます。",
				"billID": "B-217-014",
				"billStage": "審議中",
				"speechDateTime": "2025-03-10 09:00:00"
			}]
		}`))
	}))
	defer srv.Close()

	client := NewMinutesClient(srv.URL, 100, srv.Client())
	page, err := client.Fetch(context.Background(), minutesQuery())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery["from"] != "2025-03-01" || gotQuery["until"] != "2025-03-31" {
		t.Fatalf("unexpected date params %v", gotQuery)
	}
	if gotQuery["startRecord"] != "1" || gotQuery["maximumRecords"] != "100" {
		t.Fatalf("unexpected paging params %v", gotQuery)
	}

	if !page.HasMore || page.NextStart != 101 {
		t.Fatalf("pagination not parsed: %+v", page)
	}
	// One speech plus one item record for the bill reference.
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.Records[0].Kind != domain.RawKindSpeech || page.Records[0].Fields["meeting_id"] != "M-217-yosan-12" {
		t.Fatalf("unexpected speech record %+v", page.Records[0])
	}
	if page.Records[1].Kind != domain.RawKindItem || page.Records[1].Fields["item_id"] != "B-217-014" {
		t.Fatalf("unexpected item record %+v", page.Records[1])
	}
}

func TestMinutesFetchLastPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"numberOfRecords": 1, "nextRecordPosition": 0, "speechRecord": []}`))
	}))
	defer srv.Close()

	client := NewMinutesClient(srv.URL, 100, srv.Client())
	page, err := client.Fetch(context.Background(), minutesQuery())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.HasMore {
		t.Fatal("nextRecordPosition 0 must end pagination")
	}
}

func TestMinutesFetchClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		status     int
		retryAfter string
		check      func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, "30", domain.IsTransient},
		{"server error", http.StatusInternalServerError, "", domain.IsTransient},
		{"bad request", http.StatusBadRequest, "", domain.IsPermanent},
		{"not found", http.StatusNotFound, "", domain.IsPermanent},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			client := NewMinutesClient(srv.URL, 100, srv.Client())
			_, err := client.Fetch(context.Background(), minutesQuery())
			if err == nil || !tc.check(err) {
				t.Fatalf("misclassified error: %v", err)
			}
			if tc.retryAfter != "" {
				hint, ok := domain.RetryAfterHint(err)
				if !ok || hint != 30*time.Second {
					t.Fatalf("retry-after hint lost: %v ok=%v", hint, ok)
				}
			}
		})
	}
}

func TestMinutesFetchRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"speechRecord": "not-an-array"`))
	}))
	defer srv.Close()

	client := NewMinutesClient(srv.URL, 100, srv.Client())
	_, err := client.Fetch(context.Background(), minutesQuery())
	if !domain.IsPermanent(err) {
		t.Fatalf("malformed body should be permanent, got %v", err)
	}
}
