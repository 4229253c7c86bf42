package model

// Window 是固定容量的 FIFO 环形缓冲区，满了以后 Push 会挤出最旧的元素
type Window[T any] struct {
	buf  []T
	head int // 最旧元素的位置
	size int
}

// NewWindow 创建容量为 capacity 的窗口，capacity 至少为 1
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push 追加 v；如果窗口已满，返回被挤出的最旧元素和 true
func (w *Window[T]) Push(v T) (evicted T, ok bool) {
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = v
		w.size++
		return evicted, false
	}
	evicted = w.buf[w.head]
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return evicted, true
}

func (w *Window[T]) Len() int { return w.size }

func (w *Window[T]) Cap() int { return len(w.buf) }

func (w *Window[T]) Full() bool { return w.size == len(w.buf) }

// Last 返回最新元素
func (w *Window[T]) Last() (T, bool) {
	var zero T
	if w.size == 0 {
		return zero, false
	}
	return w.buf[(w.head+w.size-1)%len(w.buf)], true
}

// Values 按从旧到新的顺序返回副本
func (w *Window[T]) Values() []T {
	out := make([]T, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}
