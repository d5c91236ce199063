//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MatNotClosed detects gocv.Mat values that are never closed. Mats own C++
// memory that the Go garbage collector does not see.
//
//	mat := gocv.NewMat()
//	defer mat.Close()
func MatNotClosed(m dsl.Matcher) {
	m.Match(
		`$mat := gocv.NewMat(); $*_`,
		`$mat := gocv.NewMatWithSize($*_); $*_`,
		`$mat, $err := gocv.ImageToMatRGB($*_); $*_`,
	).
		Where(!m.File().Imports("testing")).
		At(m["mat"]).
		Report("$mat holds native memory; defer $mat.Close() after creating it")
}

// RootedMediaAccess detects direct os calls on paths built from a media
// directory. Media files are accessed through mediastore, which resolves
// names inside an os.Root.
func RootedMediaAccess(m dsl.Matcher) {
	m.Match(
		`os.Open(filepath.Join($dir, $name))`,
		`os.Create(filepath.Join($dir, $name))`,
		`os.Remove(filepath.Join($dir, $name))`,
	).
		Where(m["dir"].Text.Matches(`(?i)(upload|result)`)).
		Report("access media through mediastore.Store instead of joining $dir and $name")
}

// JoinHostPort detects fmt.Sprintf patterns for host:port.
func JoinHostPort(m dsl.Matcher) {
	m.Match(
		`fmt.Sprintf("%s:%d", $host, $port)`,
		`fmt.Sprintf("%v:%d", $host, $port)`,
	).
		Report("use net.JoinHostPort($host, strconv.Itoa($port)) instead of fmt.Sprintf for host:port")
}

// WaitGroupGo detects the Add/Done goroutine pattern that wg.Go replaces.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()").
		Suggest("$wg.Go(func() { $*_ })")
}

// SortSlices detects sort package helpers that slices replaces.
func SortSlices(m dsl.Matcher) {
	m.Match(`sort.Strings($s)`, `sort.Ints($s)`, `sort.Float64s($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")
}

// ErrorBeforeUse detects use of a file before its open error is checked.
func ErrorBeforeUse(m dsl.Matcher) {
	m.Match(
		`$f, $err := os.Open($path); $_ := $f.$method($*_); if $err != nil { $*_ }`,
		`$f, $err := os.Create($path); $_ := $f.$method($*_); if $err != nil { $*_ }`,
	).
		Report("potential nil pointer: $f may be nil if $err != nil; check error before using $f.$method()")
}
