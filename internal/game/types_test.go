package game

import (
	"encoding/hex"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewID(t *testing.T) {
	Convey("NewID mints unique 32-hex identifiers", t, func() {
		seen := make(map[string]struct{})
		for i := 0; i < 100; i++ {
			id := NewID()
			So(id, ShouldHaveLength, 32)
			_, err := hex.DecodeString(id)
			So(err, ShouldBeNil)
			seen[id] = struct{}{}
		}
		So(len(seen), ShouldEqual, 100)
	})
}

func TestSanitizeName(t *testing.T) {
	Convey("SanitizeName", t, func() {
		So(SanitizeName("alice"), ShouldEqual, "alice")
		So(SanitizeName("  alice  "), ShouldEqual, "alice")
		So(SanitizeName(""), ShouldEqual, DefaultName)
		So(SanitizeName("   \t\n"), ShouldEqual, DefaultName)

		Convey("Truncation counts characters, not bytes", func() {
			name := SanitizeName("圣诞圣诞圣诞圣诞圣诞圣诞圣诞圣诞圣诞")
			So([]rune(name), ShouldHaveLength, 16)
		})
	})
}

func TestSanitizeRoomID(t *testing.T) {
	Convey("SanitizeRoomID", t, func() {
		So(SanitizeRoomID("public"), ShouldEqual, "public")
		So(SanitizeRoomID("Lobby_2-b"), ShouldEqual, "Lobby_2-b")
		So(SanitizeRoomID("bad room!!"), ShouldEqual, "badroom")
		So(SanitizeRoomID(""), ShouldEqual, DefaultRoomID)
		So(SanitizeRoomID("!!!"), ShouldEqual, DefaultRoomID)
		So(SanitizeRoomID("樹"), ShouldEqual, DefaultRoomID)

		Convey("Long ids are cut to 32 characters before filtering", func() {
			id := SanitizeRoomID("abcdefghij-abcdefghij-abcdefghij-abcdefghij")
			So(id, ShouldHaveLength, 32)
		})
	})
}

func TestValidDecorationType(t *testing.T) {
	Convey("Only the three known ornament types are valid", t, func() {
		So(ValidDecorationType(DecoBell), ShouldBeTrue)
		So(ValidDecorationType(DecoMiniHat), ShouldBeTrue)
		So(ValidDecorationType(DecoTinsel), ShouldBeTrue)
		So(ValidDecorationType(""), ShouldBeFalse)
		So(ValidDecorationType("snowman"), ShouldBeFalse)
		So(ValidDecorationType("BELL"), ShouldBeFalse)
	})
}

func TestCheatFlagsMerge(t *testing.T) {
	Convey("Merged flags are sticky", t, func() {
		var f CheatFlags
		f.Merge(MoveFlags{SpeedClamped: true})
		f.Merge(MoveFlags{})
		So(f.SpeedClamped, ShouldBeTrue)
		So(f.XClamped, ShouldBeFalse)

		f.Merge(MoveFlags{XClamped: true, ZClamped: true})
		So(f.XClamped, ShouldBeTrue)
		So(f.ZClamped, ShouldBeTrue)
	})
}
