package env

import "runtime"

func numCPU() int {
	return runtime.NumCPU()
}
