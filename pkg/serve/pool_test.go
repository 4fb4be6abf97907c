package serve

import "testing"

func TestWorkerPoolUnbounded(t *testing.T) {
	p := newWorkerPool(0)
	for i := 0; i < 100; i++ {
		p.acquire()
	}
	for i := 0; i < 100; i++ {
		p.release()
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := newWorkerPool(2)
	p.acquire()
	p.acquire()

	done := make(chan struct{})
	go func() {
		p.acquire()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("acquire should have blocked at the concurrency limit")
	default:
	}

	p.release()
	<-done
	p.release()
}
