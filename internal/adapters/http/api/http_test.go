package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/torturbo/internal/adapters/http/api"
	"github.com/okian/torturbo/internal/adapters/repository"
	"github.com/okian/torturbo/internal/dashboard"
	"github.com/okian/torturbo/internal/domain/circuit"
	"github.com/okian/torturbo/pkg/logger"
	"github.com/okian/torturbo/pkg/requestid"
)

func init() {
	if err := logger.InitWithWriter(io.Discard, "text"); err != nil {
		panic(err)
	}
}

// Mock implementations for testing
type mockDependencies struct {
	mu   sync.Mutex
	view dashboard.View
	subs []chan dashboard.View

	snapshots []repository.Snapshot
	points    []repository.Point
	histErr   error

	lastLimit   int
	lastOrdinal int
}

func (m *mockDependencies) View() dashboard.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *mockDependencies) Subscribe(buffer int) (<-chan dashboard.View, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan dashboard.View, buffer)
	ch <- m.view
	m.subs = append(m.subs, ch)
	return ch, func() {}
}

func (m *mockDependencies) publish(v dashboard.View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = v
	for _, ch := range m.subs {
		ch <- v
	}
}

func (m *mockDependencies) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *mockDependencies) Recent(ctx context.Context, limit int) ([]repository.Snapshot, error) {
	m.lastLimit = limit
	if m.histErr != nil {
		return nil, m.histErr
	}
	return m.snapshots, nil
}

func (m *mockDependencies) Series(ctx context.Context, ordinal, limit int) ([]repository.Point, error) {
	m.lastOrdinal, m.lastLimit = ordinal, limit
	if m.histErr != nil {
		return nil, m.histErr
	}
	return m.points, nil
}

func (m *mockDependencies) Interval() time.Duration { return 5 * time.Second }

func (m *mockDependencies) MaxHistoryLimit() int { return 100 }

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func readyView(seq uint64, rtts ...string) dashboard.View {
	cs := make([]circuit.Circuit, 0, len(rtts))
	for i, r := range rtts {
		cs = append(cs, circuit.Circuit{Ordinal: i + 1, RTT: circuit.TextRTT(r)})
	}
	return dashboard.View{
		State:     dashboard.StateReady,
		Circuits:  cs,
		RequestID: "req-" + strconv.FormatUint(seq, 10),
		Seq:       seq,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newMux(deps *mockDependencies) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}},
		api.WithPingInterval(time.Second))
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{view: dashboard.View{State: dashboard.StatePending}}
		mux := newMux(deps)

		Convey("Then health endpoint should serve metrics", func() {
			w := serve(mux, http.MethodGet, "/healthz")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "# TYPE")
		})

		Convey("Then stats endpoint should serve JSON", func() {
			w := serve(mux, http.MethodGet, "/stats")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then every response carries a request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
			req.Header.Set(requestid.Header, "caller-id")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Header().Get(requestid.Header), ShouldEqual, "caller-id")

			w = serve(mux, http.MethodGet, "/stats")
			So(w.Header().Get(requestid.Header), ShouldNotBeEmpty)
		})

		Convey("Then unknown paths are not found", func() {
			w := serve(mux, http.MethodGet, "/unknown")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then read routes reject other methods with a JSON error", func() {
			for _, path := range []string{"/", "/dashboard", "/dashboard/cards", "/api/view", "/api/history", "/api/history/1", "/stats", "/healthz"} {
				w := serve(mux, http.MethodPost, path)
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)

				var body map[string]string
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["code"], ShouldEqual, "method_not_allowed")
			}
		})
	})
}

func TestDashboardRoutes(t *testing.T) {
	Convey("Given the dashboard routes", t, func() {
		deps := &mockDependencies{view: dashboard.View{State: dashboard.StatePending}}
		mux := newMux(deps)

		Convey("When nothing has been loaded yet", func() {
			w := serve(mux, http.MethodGet, "/")

			Convey("Then the page shows the placeholder", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "text/html")
				body := w.Body.String()
				So(body, ShouldContainSubstring, "TorTurbo Dashboard")
				So(body, ShouldContainSubstring, `<p class="placeholder">Loading…</p>`)
				So(body, ShouldContainSubstring, `data-refresh-ms="5000"`)
			})
		})

		Convey("When the view holds two circuits", func() {
			deps.view = readyView(1, "120", "340")
			w := serve(mux, http.MethodGet, "/dashboard/cards")

			Convey("Then the fragment has two cards in order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := w.Body.String()
				So(body, ShouldNotContainSubstring, "Loading")
				So(body, ShouldNotContainSubstring, "<html")
				first := strings.Index(body, "Circuit #1")
				second := strings.Index(body, "Circuit #2")
				So(first, ShouldBeGreaterThanOrEqualTo, 0)
				So(second, ShouldBeGreaterThan, first)
				So(body, ShouldContainSubstring, "120")
				So(body, ShouldContainSubstring, "340")
			})
		})

		Convey("When the view is ready and empty", func() {
			deps.view = readyView(1)
			w := serve(mux, http.MethodGet, "/dashboard/cards")

			Convey("Then the fragment is empty", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldBeEmpty)
			})
		})
	})
}

func TestViewRoute(t *testing.T) {
	Convey("Given the view route", t, func() {
		deps := &mockDependencies{view: dashboard.View{State: dashboard.StatePending}}
		mux := newMux(deps)

		decode := func() map[string]interface{} {
			w := serve(mux, http.MethodGet, "/api/view")
			So(w.Code, ShouldEqual, http.StatusOK)
			var body map[string]interface{}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			return body
		}

		Convey("When pending", func() {
			body := decode()

			Convey("Then circuits is null and the placeholder shows", func() {
				So(body["state"], ShouldEqual, "pending")
				So(body["circuits"], ShouldBeNil)
				So(body["placeholder"], ShouldBeTrue)
			})
		})

		Convey("When failed", func() {
			deps.view = dashboard.View{State: dashboard.StateFailed, Err: circuit.ErrMalformed, Seq: 3}
			body := decode()

			Convey("Then the error is reported", func() {
				So(body["state"], ShouldEqual, "failed")
				So(body["circuits"], ShouldBeNil)
				So(body["error"], ShouldContainSubstring, "malformed")
				So(body["seq"], ShouldEqual, float64(3))
			})
		})

		Convey("When ready and empty", func() {
			deps.view = readyView(2)
			body := decode()

			Convey("Then circuits is an empty list", func() {
				So(body["circuits"], ShouldResemble, []interface{}{})
				So(body["placeholder"], ShouldBeFalse)
			})
		})

		Convey("When ready with circuits", func() {
			deps.view = readyView(4, "120")
			body := decode()

			Convey("Then each circuit carries its ordinal and rtt", func() {
				cs := body["circuits"].([]interface{})
				So(len(cs), ShouldEqual, 1)
				So(cs[0], ShouldResemble, map[string]interface{}{"ordinal": float64(1), "rtt": "120"})
				So(body["request_id"], ShouldEqual, "req-4")
				So(body["updated_at"], ShouldEqual, "2026-01-02T03:04:05Z")
			})
		})
	})
}

func TestHistoryRoutes(t *testing.T) {
	Convey("Given the history routes", t, func() {
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		deps := &mockDependencies{
			snapshots: []repository.Snapshot{
				{RequestID: "b", Seq: 2, State: "ready", At: at, Circuits: []circuit.Circuit{{Ordinal: 1, RTT: circuit.NumberRTT(90)}}},
				{RequestID: "a", Seq: 1, State: "failed", Error: "boom", At: at},
			},
			points: []repository.Point{
				{RequestID: "b", Seq: 2, At: at, RTT: circuit.NumberRTT(90)},
				{RequestID: "a", Seq: 1, At: at, RTT: circuit.TextRTT("pending")},
			},
		}
		mux := newMux(deps)

		Convey("When listing recent snapshots without a limit", func() {
			w := serve(mux, http.MethodGet, "/api/history")

			Convey("Then the default limit is used and snapshots are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastLimit, ShouldEqual, 50)
				var body struct {
					Limit     int `json:"limit"`
					Snapshots []struct {
						RequestID string `json:"request_id"`
						State     string `json:"state"`
						Error     string `json:"error"`
					} `json:"snapshots"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.Limit, ShouldEqual, 50)
				So(len(body.Snapshots), ShouldEqual, 2)
				So(body.Snapshots[0].RequestID, ShouldEqual, "b")
				So(body.Snapshots[1].Error, ShouldEqual, "boom")
			})
		})

		Convey("When the limit exceeds the maximum", func() {
			w := serve(mux, http.MethodGet, "/api/history?limit=1000")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastLimit, ShouldEqual, 100)
		})

		Convey("When the limit is not a positive number", func() {
			for _, q := range []string{"abc", "0", "-3"} {
				w := serve(mux, http.MethodGet, "/api/history?limit="+q)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "invalid_limit")
			}
		})

		Convey("When reading a circuit series", func() {
			w := serve(mux, http.MethodGet, "/api/history/1?limit=10")

			Convey("Then numeric points carry milliseconds", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastOrdinal, ShouldEqual, 1)
				So(deps.lastLimit, ShouldEqual, 10)
				var body struct {
					Ordinal int `json:"ordinal"`
					Points  []struct {
						RTT    interface{} `json:"rtt"`
						Millis *float64    `json:"ms"`
					} `json:"points"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.Ordinal, ShouldEqual, 1)
				So(len(body.Points), ShouldEqual, 2)
				So(*body.Points[0].Millis, ShouldEqual, 90.0)
				So(body.Points[1].RTT, ShouldEqual, "pending")
				So(body.Points[1].Millis, ShouldBeNil)
			})
		})

		Convey("When the ordinal is invalid", func() {
			for _, o := range []string{"x", "0", "-1"} {
				w := serve(mux, http.MethodGet, "/api/history/"+o)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When the circuit has no history", func() {
			deps.histErr = repository.ErrNotFound
			w := serve(mux, http.MethodGet, "/api/history/7")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the store is closed", func() {
			deps.histErr = repository.ErrClosed
			w := serve(mux, http.MethodGet, "/api/history")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When the store fails", func() {
			deps.histErr = errors.New("disk on fire")
			w := serve(mux, http.MethodGet, "/api/history")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldContainSubstring, "disk on fire")
		})
	})
}

func TestLiveRoute(t *testing.T) {
	Convey("Given a live connection", t, func() {
		deps := &mockDependencies{view: dashboard.View{State: dashboard.StatePending}}
		srv := httptest.NewServer(newMux(deps))
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()
		So(resp.StatusCode, ShouldEqual, http.StatusSwitchingProtocols)

		read := func() map[string]interface{} {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var msg map[string]interface{}
			So(conn.ReadJSON(&msg), ShouldBeNil)
			return msg
		}

		Convey("Then the current view arrives first", func() {
			msg := read()
			So(msg["state"], ShouldEqual, "pending")
			So(msg["placeholder"], ShouldBeTrue)

			Convey("And every change follows", func() {
				So(deps.subscribers(), ShouldEqual, 1)
				deps.publish(readyView(1, "120", "340"))
				msg = read()
				So(msg["state"], ShouldEqual, "ready")
				So(len(msg["circuits"].([]interface{})), ShouldEqual, 2)

				deps.publish(readyView(2, "99"))
				msg = read()
				So(msg["seq"], ShouldEqual, float64(2))
				So(len(msg["circuits"].([]interface{})), ShouldEqual, 1)
			})
		})
	})
}
