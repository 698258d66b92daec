package testutil

import (
	"io/ioutil"
	"os"

	"github.com/smartystreets/goconvey/convey"

	"go.polydawn.net/shar/fs"
)

func ShouldStat(afs fs.FS, path fs.RelPath) fs.Metadata {
	stat, err := afs.LStat(path)
	convey.So(err, convey.ShouldBeNil)
	stat.Mtime = stat.Mtime.UTC()
	return *stat
}

// PlaceFile writes a small fixture file through the filesystem under test.
func PlaceFile(afs fs.FS, path fs.RelPath, body []byte, perms fs.Perms) {
	for _, parent := range path.SplitParent() {
		if _, err := afs.Stat(parent); err != nil {
			convey.So(afs.Mkdir(parent, 0755), convey.ShouldBeNil)
		}
	}
	f, err := afs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perms)
	convey.So(err, convey.ShouldBeNil)
	_, err = f.Write(body)
	convey.So(err, convey.ShouldBeNil)
	convey.So(f.Close(), convey.ShouldBeNil)
}

// ShouldReadFile returns a file's entire contents, asserting readability.
func ShouldReadFile(afs fs.FS, path fs.RelPath) []byte {
	f, err := afs.OpenFile(path, os.O_RDONLY, 0)
	convey.So(err, convey.ShouldBeNil)
	defer f.Close()
	body, err := ioutil.ReadAll(f)
	convey.So(err, convey.ShouldBeNil)
	return body
}
