// Package mempool pools the float32 buffers that back model input tensors.
// A 640x640 detector input is 1.2M floats; pooling keeps repeated frames
// from reallocating it.
package mempool

import "sync"

const step = 1024

// float32Pools maps a size class to a *sync.Pool of *[]float32.
var float32Pools sync.Map

// sizeClass rounds n up to the next multiple of step, minimum step.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

func pool(cls int) *sync.Pool {
	if p, ok := float32Pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := float32Pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]float32, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Its contents are undefined; the
// caller must overwrite every element and hand it back with PutFloat32 once
// nothing references it.
func GetFloat32(n int) []float32 {
	if n < 0 {
		n = 0
	}
	bp := pool(sizeClass(n)).Get().(*[]float32)
	return (*bp)[:n]
}

// PutFloat32 returns a buffer obtained from GetFloat32. Nil and foreign
// buffers whose capacity is not a size class are ignored.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c%step != 0 {
		return
	}
	buf = buf[:c]
	pool(c).Put(&buf)
}
