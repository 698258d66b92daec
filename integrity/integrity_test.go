package integrity

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVerification(t *testing.T) {
	Convey("Digest and count verification", t, func() {
		feed := func(body string) *Digester {
			d := NewDigester()
			d.Write([]byte(body))
			return d
		}
		count := func(n int64) *int64 { return &n }

		Convey("a known vector", func() {
			d := feed("hello\n")
			So(d.Count(), ShouldEqual, 6)
			So(d.HexDigest(), ShouldEqual, "b1946ac92492d2347c6235b4d2611184")
		})
		Convey("both checks matching", func() {
			d := feed("hello\n")
			So(d.Verify(count(6), "b1946ac92492d2347c6235b4d2611184"), ShouldEqual, Match)
		})
		Convey("count takes precedence when it disagrees", func() {
			d := feed("hello\n")
			So(d.Verify(count(7), "b1946ac92492d2347c6235b4d2611184"), ShouldEqual, CountMismatch)
		})
		Convey("digest mismatch with count agreeing", func() {
			d := feed("hello\n")
			So(d.Verify(count(6), "d41d8cd98f00b204e9800998ecf8427e"), ShouldEqual, DigestMismatch)
		})
		Convey("each check can be individually disabled", func() {
			d := feed("hello\n")
			So(d.Verify(nil, "b1946ac92492d2347c6235b4d2611184"), ShouldEqual, Match)
			So(d.Verify(count(6), ""), ShouldEqual, Match)
		})
		Convey("all checks disabled is a skip, not a pass", func() {
			d := feed("hello\n")
			So(d.Verify(nil, ""), ShouldEqual, Skipped)
		})
	})
}
