package game

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTokenBucket(t *testing.T) {
	Convey("Token bucket", t, func() {
		Convey("Starts full and drains one token per allow", func() {
			b := newTokenBucket(0, 2)
			So(b.allow(0, 2), ShouldBeTrue)
			So(b.allow(0, 2), ShouldBeTrue)
			So(b.allow(0, 2), ShouldBeFalse)
			So(b.allow(0, 2), ShouldBeFalse)
		})

		Convey("Refills at the configured rate", func() {
			b := newTokenBucket(0, 2)
			b.allow(0, 2)
			b.allow(0, 2)
			So(b.allow(0, 2), ShouldBeFalse)

			// 2 tokens/s: half a second buys exactly one token.
			So(b.allow(500, 2), ShouldBeTrue)
			So(b.allow(500, 2), ShouldBeFalse)
		})

		Convey("Never refills past capacity", func() {
			b := newTokenBucket(0, 3)
			for i := 0; i < 3; i++ {
				So(b.allow(1_000_000, 3), ShouldBeTrue)
			}
			So(b.allow(1_000_000, 3), ShouldBeFalse)
		})

		Convey("A clock going backwards does not refund tokens", func() {
			b := newTokenBucket(1000, 1)
			So(b.allow(1000, 1), ShouldBeTrue)
			So(b.allow(500, 1), ShouldBeFalse)
		})
	})
}
