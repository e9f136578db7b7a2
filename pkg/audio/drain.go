package audio

// Drain reads from ch until it is closed, discarding all values. Use it when a
// synthesis stream must be abandoned without leaking the producer goroutine.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
