package main

import (
	"context"
	"os"
	"time"
)

// Example demonstrates driving the capture engine with the mock provider:
// scripted calls flow through the same correlation, filtering, and rendering
// path as live kernel observations.
func Example() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	layout := Layout{}
	filters := &FilterConfig{}
	engine := NewEngine(layout, filters, defaultStoreCap, 16)

	provider := NewMockTraceProvider()
	defer provider.Close()

	plan := SelectStrategies(provider)
	if err := provider.Attach(plan, engine); err != nil {
		panic(err)
	}

	// Script three open attempts, one of which fails with ENOENT.
	provider.Emit(VariantOpenat, CreateMockCall(1234, 1234, 0, "cat", "/etc/passwd", 0, 0, 3, 100))
	provider.Emit(VariantOpenat, CreateMockCall(1234, 1234, 0, "cat", "/etc/nope", 0, 0, -2, 150))
	provider.Emit(VariantOpenat, CreateMockCall(5678, 5678, 0, "vim", "/home/user/notes.txt", 0, 0, 4, 200))

	renderer := NewRenderer(os.Stdout, layout, false, false, false, false)
	renderer.Header()
	consumer := NewConsumer(engine.Events(), layout, filters, renderer)

	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	// Output:
	// PID    COMM               FD ERR PATH
	// 1234   cat                 3   0 /etc/passwd
	// 1234   cat                -1   2 /etc/nope
	// 5678   vim                 4   0 /home/user/notes.txt
}
