package planner

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dshills/tripgraph/graph/model"
	"github.com/dshills/tripgraph/graph/tool"
)

// fakeServices serves geocoding, forecasts and search for Lisbon and Porto.
type fakeServices struct {
	*httptest.Server
	searches atomic.Int32
}

func newFakeServices(t *testing.T) *fakeServices {
	t.Helper()
	f := &fakeServices{}

	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "Lisbon":
			_, _ = w.Write([]byte(`[{"lat":"38.7223","lon":"-9.1393"}]`))
		case "Porto":
			_, _ = w.Write([]byte(`[{"lat":"41.1579","lon":"-8.6291"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "weather-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		desc := "clear sky"
		if strings.HasPrefix(r.URL.Query().Get("lat"), "41") {
			desc = "light rain"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"list": []map[string]any{
			{"dt_txt": "2025-05-01 09:00:00", "main": map[string]any{"temp": 14.04}, "weather": []map[string]any{{"description": desc}}, "pop": 0.1},
			{"dt_txt": "2025-05-01 15:00:00", "main": map[string]any{"temp": 21.26}, "weather": []map[string]any{{"description": desc}}, "pop": 0.35},
			{"dt_txt": "2025-05-02 12:00:00", "main": map[string]any{"temp": 19.5}, "weather": []map[string]any{{"description": "few clouds"}}},
		}})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{"title": "Guide", "content": "About " + r.URL.Query().Get("query"), "url": "https://example.com/guide"},
		}})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServices) weather() *WeatherClient {
	return NewWeatherClient(tool.NewHTTPTool(), "weather-key",
		WithGeocodeURL(f.URL+"/geocode"),
		WithForecastURL(f.URL+"/forecast"),
	)
}

func (f *fakeServices) search() *SearchClient {
	return NewSearchClient(tool.NewHTTPTool(), "search-key", f.URL+"/search")
}

var summaryTopic = regexp.MustCompile(`about "(.+) in (.+)"`)

// scriptedModel answers each planner prompt deterministically.
func scriptedModel() *model.MockChatModel {
	return &model.MockChatModel{
		Respond: func(msgs []model.Message) (model.ChatOut, error) {
			prompt := msgs[len(msgs)-1].Content
			switch {
			case strings.Contains(prompt, "Extract every travel destination"):
				return model.ChatOut{Text: `["Lisbon", "Porto"]`}, nil
			case strings.Contains(prompt, "Propose 5 research subtopics"):
				return model.ChatOut{Text: "```json\n[\"Food\", \"Museums\"]\n```"}, nil
			case strings.Contains(prompt, "Rewrite the subtopics"):
				return model.ChatOut{Text: `["Food"]`}, nil
			case strings.Contains(prompt, "Summarize what a traveller"):
				m := summaryTopic.FindStringSubmatch(prompt)
				return model.ChatOut{Text: fmt.Sprintf("Try the local %s of %s.", strings.ToLower(m[1]), m[2])}, nil
			case strings.Contains(prompt, "Create a complete travel plan"):
				return model.ChatOut{Text: "Day 1: Lisbon.\nDay 2: Porto."}, nil
			case strings.Contains(prompt, "Rewrite the whole plan"):
				return model.ChatOut{Text: "Day 1: Lisbon.\nDay 2: Sintra.\nDay 3: Porto."}, nil
			}
			return model.ChatOut{}, fmt.Errorf("unexpected prompt: %q", prompt)
		},
	}
}
