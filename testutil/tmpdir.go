package testutil

import (
	"io/ioutil"
	"os"

	"go.polydawn.net/shar/fs"
)

/*
	Run the given function with a fresh temporary directory as the
	process working directory, cleaning up afterward.
*/
func WithTmpdir(fn func(tmpDir fs.AbsolutePath)) {
	retreat, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	defer os.Chdir(retreat)

	tmpdir, err := ioutil.TempDir("", "shar-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpdir)

	if err := os.Chdir(tmpdir); err != nil {
		panic(err)
	}
	fn(fs.MustAbsolutePath(tmpdir))
}
