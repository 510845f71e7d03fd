package influx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/timeseries"
)

func TestClient_WriteEncodesLineProtocol(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "org", "bucket")
	samples := []model.Sample{{SourceID: "main_power", Timestamp: 1000, Fields: map[string]float64{"voltage": 12.5}}}
	if err := c.Write(context.Background(), samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(gotBody, "sample,source_id=main_power voltage=12.5") {
		t.Fatalf("expected line-protocol body to contain the encoded point, got %q", gotBody)
	}
}

func TestClient_QueryDecodesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []timeseries.Point{{Time: time.Unix(0, 0), Value: 42}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "org", "bucket")
	res, err := c.Query(context.Background(), timeseries.Query{SourceID: "main_power", Field: "voltage"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Data) != 1 || res.Data[0].Value != 42 {
		t.Fatalf("expected one decoded row with value 42, got %+v", res.Data)
	}
}

func TestClient_WriteErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "org", "bucket")
	err := c.Write(context.Background(), []model.Sample{{SourceID: "x", Fields: map[string]float64{"v": 1}}})
	if err == nil {
		t.Fatal("expected an error on a 500 response")
	}
}
