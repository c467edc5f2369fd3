package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestRun(t *testing.T) {
	convey.Convey("Given the statuswatch command", t, func() {
		logFile := filepath.Join(t.TempDir(), "watch.log")

		convey.Convey("When asked for help", func() {
			convey.So(run([]string{"-help"}), convey.ShouldEqual, 0)
		})

		convey.Convey("When given an unknown flag", func() {
			convey.So(run([]string{"-bogus"}), convey.ShouldEqual, 2)
		})

		convey.Convey("When the URL is not absolute", func() {
			convey.So(run([]string{"-log", logFile, "-url", "/api/status"}), convey.ShouldEqual, 2)
		})

		convey.Convey("When polling once", func() {
			serve := func(body string) *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte(body))
				}))
			}

			convey.Convey("Then a valid status exits zero", func() {
				srv := serve(`{"circuits":[{"rtt":120}]}`)
				defer srv.Close()
				convey.So(run([]string{"-log", logFile, "-once", "-url", srv.URL + "/api/status"}), convey.ShouldEqual, 0)
			})

			convey.Convey("Then a malformed status exits non-zero", func() {
				srv := serve(`{"nodes":[]}`)
				defer srv.Close()
				convey.So(run([]string{"-log", logFile, "-once", "-url", srv.URL + "/api/status"}), convey.ShouldEqual, 1)
			})
		})
	})
}
