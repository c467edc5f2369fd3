package requestid

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRequestID(t *testing.T) {
	Convey("Given request ids", t, func() {
		Convey("When generating one", func() {
			id := New()

			Convey("Then it is a valid uuid and unique", func() {
				_, err := uuid.Parse(id)
				So(err, ShouldBeNil)
				So(New(), ShouldNotEqual, id)
			})
		})

		Convey("When carried by a context", func() {
			ctx := With(context.Background(), "abc")
			So(From(ctx), ShouldEqual, "abc")
			So(From(context.Background()), ShouldEqual, "")
		})

		Convey("When read from a request", func() {
			r := httptest.NewRequest("GET", "/", nil)
			r.Header.Set(Header, "client-7")
			So(FromRequest(r), ShouldEqual, "client-7")

			r.Header.Set(Header, strings.Repeat("x", 200))
			So(FromRequest(r), ShouldNotStartWith, "xxx")

			r.Header.Del(Header)
			So(FromRequest(r), ShouldNotBeBlank)
		})
	})
}
