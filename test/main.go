// Workload generator for exercising the tracer by hand:
//
//	sudo ./opensnoop --exec go run ./test /etc/hostname ./relative.txt
//
// Each argument is opened once and the result reported; without arguments a
// default mix of successful, failing, and relative opens runs.
package main

import (
	"fmt"
	"os"
	"time"
)

func main() {
	fmt.Println("workload started, PID:", os.Getpid())

	paths := os.Args[1:]
	if len(paths) == 0 {
		paths = []string{
			"/etc/hostname",
			"/etc/passwd",
			"/does/not/exist",
			"relative-workload.txt",
		}
	}

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			fmt.Printf("open %s: %v\n", path, err)
			continue
		}
		fmt.Printf("open %s: fd %d\n", path, f.Fd())
		f.Close()
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Println("workload done")
}
