package osfs

import (
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/testutil"
)

func TestMetadata(t *testing.T) {
	Convey("Stat reads back what was placed", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := New(tmpDir)
			testutil.PlaceFile(afs, fs.MustRelPath("f"), []byte("body\n"), 0640)

			fmeta := testutil.ShouldStat(afs, fs.MustRelPath("f"))
			So(fmeta.Type, ShouldEqual, fs.Type_File)
			So(fmeta.Perms, ShouldEqual, fs.Perms(0640))
			So(fmeta.Size, ShouldEqual, 5)

			Convey("and times can be set and read back", func() {
				mtime := time.Date(1999, time.December, 31, 23, 59, 59, 0, time.UTC)
				So(afs.SetTimesNano(fs.MustRelPath("f"), mtime, fs.DefaultAtime), ShouldBeNil)
				So(testutil.ShouldStat(afs, fs.MustRelPath("f")).Mtime.UTC(), ShouldResemble, mtime)
			})
		})
	})
}

func TestConfinement(t *testing.T) {
	Convey("Operations are confined to the base path", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			outer := New(tmpDir)
			So(outer.Mkdir(fs.MustRelPath("zone"), 0755), ShouldBeNil)
			afs := New(tmpDir.Join(fs.MustRelPath("zone")))

			Convey("paths departing the base are refused outright", func() {
				_, err := afs.OpenFile(fs.MustRelPath("../escapee"), os.O_CREATE|os.O_WRONLY, 0644)
				So(err, errcat.ErrorShouldHaveCategory, fs.ErrBreakout)
			})

			Convey("an absolute symlink resolves to the base, not the host root", func() {
				So(os.Symlink("/", "zone/abs"), ShouldBeNil)
				f, err := afs.OpenFile(fs.MustRelPath("abs/landed"), os.O_CREATE|os.O_WRONLY, 0644)
				So(err, ShouldBeNil)
				So(f.Close(), ShouldBeNil)
				// the write landed inside the zone
				_, err = os.Stat("zone/landed")
				So(err, ShouldBeNil)
				_, err = os.Stat("/landed")
				So(err, ShouldNotBeNil)
			})

			Convey("upward symlink segments stop at the base", func() {
				So(os.Symlink("../../..", "zone/up"), ShouldBeNil)
				f, err := afs.OpenFile(fs.MustRelPath("up/landed"), os.O_CREATE|os.O_WRONLY, 0644)
				So(err, ShouldBeNil)
				So(f.Close(), ShouldBeNil)
				_, err = os.Stat("zone/landed")
				So(err, ShouldBeNil)
			})

			Convey("cyclic symlinks are detected", func() {
				So(os.Symlink("b", "zone/a"), ShouldBeNil)
				So(os.Symlink("a", "zone/b"), ShouldBeNil)
				_, err := afs.OpenFile(fs.MustRelPath("a/x"), os.O_CREATE|os.O_WRONLY, 0644)
				So(err, errcat.ErrorShouldHaveCategory, fs.ErrRecursion)
			})
		})
	})
}
