package audio

// Drain reads from ch until it is closed, discarding all values. Use this to
// prevent producer goroutine leaks when a streaming channel's data is no
// longer needed (e.g. a capture tap after the session was superseded).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
