//go:build debug

package debug

import "fmt"

func assert(cond bool, msg ...any) {
	if !cond {
		panic(fmt.Sprint(msg...))
	}
}
