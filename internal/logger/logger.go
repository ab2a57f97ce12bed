package logger

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	// Default logger writes to stderr
	std = log.New(os.Stderr, "[rdt] ", log.LstdFlags)

	debug atomic.Bool
)

func init() {
	debug.Store(os.Getenv("RDT_DEBUG") == "1")
}

func SetOutput(output io.Writer) {
	std.SetOutput(output)
}

// SetDebug toggles Debugf output.
func SetDebug(on bool) {
	debug.Store(on)
}

func Printf(format string, v ...interface{}) {
	std.Printf(format, v...)
}

func Println(v ...interface{}) {
	std.Println(v...)
}

func Debugf(format string, v ...interface{}) {
	if !debug.Load() {
		return
	}
	std.Printf("debug: "+format, v...)
}

func Fatal(v ...interface{}) {
	std.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	std.Fatalf(format, v...)
}
