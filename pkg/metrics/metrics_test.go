package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then collectors are registered on it", func() {
				So(manager, ShouldNotBeNil)
				manager.pollRequests.WithLabelValues(OutcomeOK).Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("edge"),
				WithInstance("relay-a"),
				WithRefreshInterval(3*time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names carry the namespace and series the instance label", func() {
				manager.circuitsDisplayed.Set(2)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found *dto.MetricFamily
				for _, f := range families {
					if f.GetName() == "edge_dashboard_circuits_displayed" {
						found = f
					}
				}
				So(found, ShouldNotBeNil)
				labels := found.GetMetric()[0].GetLabel()
				So(len(labels), ShouldEqual, 1)
				So(labels[0].GetName(), ShouldEqual, "instance")
				So(labels[0].GetValue(), ShouldEqual, "relay-a")
				So(manager.RefreshInterval(), ShouldEqual, 3*time.Second)
			})
		})
	})
}

func TestInit(t *testing.T) {
	Convey("Given the global manager rebuilt with options", t, func() {
		prevRegistry, prevManager := customRegistry, globalManager
		defer func() { customRegistry, globalManager = prevRegistry, prevManager }()

		Init(WithNamespace("edge"), WithRefreshInterval(time.Minute))

		Convey("When a view is published", func() {
			UpdateView("ready", 1, map[int]float64{1: 42}, time.Now())

			Convey("Then the served registry exposes the renamed gauges", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "edge_dashboard_circuit_rtt_milliseconds")
				So(RefreshInterval(), ShouldEqual, time.Minute)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording poll outcomes", func() {
			before := valueOf(globalManager.pollRequests.WithLabelValues(OutcomeStale))
			RecordPoll(OutcomeStale, 0)
			RecordPoll(OutcomeOK, 12*time.Millisecond)

			Convey("Then the outcome counter moves", func() {
				after := valueOf(globalManager.pollRequests.WithLabelValues(OutcomeStale))
				So(after, ShouldEqual, before+1)
			})
		})

		Convey("When updating the view gauges", func() {
			UpdateView("ready", 2, map[int]float64{1: 120, 2: 340}, time.Unix(1700000000, 0))

			Convey("Then state, count and RTTs are exported", func() {
				So(valueOf(globalManager.viewState.WithLabelValues("ready")), ShouldEqual, 1)
				So(valueOf(globalManager.viewState.WithLabelValues("pending")), ShouldEqual, 0)
				So(valueOf(globalManager.circuitsDisplayed), ShouldEqual, 2)
				So(valueOf(globalManager.circuitRTT.WithLabelValues("2")), ShouldEqual, 340)
				So(valueOf(globalManager.lastAppliedUnix), ShouldEqual, 1700000000)
			})

			Convey("And a later view replaces stale positions", func() {
				UpdateView("failed", 0, nil, time.Time{})
				So(countOf(globalManager.circuitRTT), ShouldEqual, 0)
				So(valueOf(globalManager.viewState.WithLabelValues("failed")), ShouldEqual, 1)
			})
		})

		Convey("When recording the remaining helpers", func() {
			So(func() {
				IncPollInFlight()
				DecPollInFlight()
				UpdateLiveSubscribers(3)
				RecordLiveMessage()
				RecordHTTPRequest("view", "GET", "200")
				RecordHTTPRequestDuration("view", "GET", "200", 1.5)
				UpdateQueueCapacity(10)
				UpdateQueueSize(1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(2)
				RecordHistoryWrite(time.Millisecond)
				RecordHistoryWriteError()
				RecordHistoryDuplicate()
				RecordErrorByComponent("poller", "timeout")
				RecordErrorByEndpoint("view", "POST", "client_error")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
			}, ShouldNotPanic)
		})

		Convey("When gathering the custom registry", func() {
			families, err := GetRegistry().Gather()

			Convey("Then dashboard metrics are present", func() {
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(strings.Join(names, ","), ShouldContainSubstring, "torturbo_dashboard_poll_requests_total")
			})
		})
	})
}

func valueOf(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return -1
	}
	switch {
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	}
	return -1
}

func countOf(c prometheus.Collector) int {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	return len(ch)
}
