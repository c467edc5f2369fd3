package statusapi_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/okian/torturbo/internal/adapters/statusapi"
	"github.com/okian/torturbo/internal/domain/circuit"
	"github.com/okian/torturbo/pkg/requestid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewClient(t *testing.T) {
	Convey("Given status URLs", t, func() {
		Convey("When the URL is valid", func() {
			c, err := statusapi.NewClient("http://127.0.0.1:18080/api/status")
			So(err, ShouldBeNil)
			So(c.URL(), ShouldEqual, "http://127.0.0.1:18080/api/status")
		})

		Convey("When the scheme is not http", func() {
			_, err := statusapi.NewClient("ftp://host/api/status")
			So(err, ShouldNotBeNil)
		})

		Convey("When the host is missing", func() {
			_, err := statusapi.NewClient("http:///api/status")
			So(err, ShouldNotBeNil)
		})

		Convey("When a SOCKS5 proxy is configured", func() {
			_, err := statusapi.NewClient("http://example.onion/api/status",
				statusapi.WithSOCKS5("socks5://user:pw@127.0.0.1:9050"))
			So(err, ShouldBeNil)
		})

		Convey("When the proxy scheme is wrong", func() {
			_, err := statusapi.NewClient("http://host/api/status",
				statusapi.WithSOCKS5("http://127.0.0.1:9050"))
			So(errors.Is(err, statusapi.ErrInvalidProxy), ShouldBeTrue)
		})
	})
}

func TestClientFetch(t *testing.T) {
	Convey("Given a status endpoint", t, func() {
		var (
			status    = http.StatusOK
			body      = `{"circuits":[{"rtt":120},{"rtt":340}]}`
			gotAccept string
			gotReqID  string
			delay     time.Duration
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAccept = r.Header.Get("Accept")
			gotReqID = r.Header.Get("X-Request-ID")
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-r.Context().Done():
					return
				}
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}))
		defer srv.Close()

		c, err := statusapi.NewClient(srv.URL+"/api/status", statusapi.WithTimeout(200*time.Millisecond))
		So(err, ShouldBeNil)

		Convey("When the endpoint answers with circuits", func() {
			ctx := requestid.With(context.Background(), "req-1")
			st, err := c.Fetch(ctx)

			Convey("Then they are decoded in order and headers are sent", func() {
				So(err, ShouldBeNil)
				So(len(st.Circuits), ShouldEqual, 2)
				So(st.Circuits[1].RTT.String(), ShouldEqual, "340")
				So(gotAccept, ShouldEqual, "application/json")
				So(gotReqID, ShouldEqual, "req-1")
			})
		})

		Convey("When the endpoint returns a server error", func() {
			status = http.StatusBadGateway
			body = "upstream down"
			_, err := c.Fetch(context.Background())

			Convey("Then ErrUnexpectedStatus carries the body", func() {
				So(errors.Is(err, statusapi.ErrUnexpectedStatus), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "upstream down")
			})
		})

		Convey("When the payload is malformed", func() {
			body = `{"nodes":[]}`
			_, err := c.Fetch(context.Background())

			Convey("Then ErrMalformed is returned", func() {
				So(errors.Is(err, circuit.ErrMalformed), ShouldBeTrue)
				So(errors.Is(err, statusapi.ErrFetch), ShouldBeFalse)
			})
		})

		Convey("When the endpoint hangs past the timeout", func() {
			delay = time.Second
			_, err := c.Fetch(context.Background())

			Convey("Then ErrFetch is returned", func() {
				So(errors.Is(err, statusapi.ErrFetch), ShouldBeTrue)
			})
		})

		Convey("When the caller cancels", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := c.Fetch(ctx)

			Convey("Then the fetch fails with the context error", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

// socksRelay is a minimal no-auth SOCKS5 server that connects to IPv4 and
// domain targets and relays bytes. connects counts CONNECT requests.
func socksRelay(t *testing.T, connects chan<- string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS(conn, connects)
		}
	}()
	return ln
}

func serveSOCKS(conn net.Conn, connects chan<- string) {
	defer conn.Close()
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, head[1])); err != nil {
		return
	}
	if _, err := conn.Write([]byte{5, 0}); err != nil {
		return
	}

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}
	var host string
	switch req[3] {
	case 1:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 3:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port))))
	connects <- target

	up, err := net.Dial("tcp", target)
	if err != nil {
		_, _ = conn.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		return
	}
	defer up.Close()
	if _, err := conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}
	go func() { _, _ = io.Copy(up, conn) }()
	_, _ = io.Copy(conn, up)
}

func TestClientFetchThroughSOCKS5(t *testing.T) {
	Convey("Given a status endpoint behind a SOCKS5 relay", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"circuits":[{"rtt":"85ms"}]}`))
		}))
		defer srv.Close()
		connects := make(chan string, 4)
		relay := socksRelay(t, connects)
		defer relay.Close()

		Convey("When the proxy option is given before the timeout", func() {
			c, err := statusapi.NewClient(srv.URL+"/api/status",
				statusapi.WithSOCKS5("socks5://"+relay.Addr().String()),
				statusapi.WithTimeout(2*time.Second),
			)
			So(err, ShouldBeNil)
			st, err := c.Fetch(context.Background())

			Convey("Then the request goes through the relay", func() {
				So(err, ShouldBeNil)
				So(len(st.Circuits), ShouldEqual, 1)
				So(st.Circuits[0].RTT.String(), ShouldEqual, "85ms")
				So(<-connects, ShouldEqual, srv.Listener.Addr().String())
			})
		})
	})
}
