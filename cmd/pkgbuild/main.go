package main

import "github.com/goplus/pkgbuild/cmd/pkgbuild/internal"

func main() {
	internal.Execute()
}
