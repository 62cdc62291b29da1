package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer goroutine when its output is no longer
// wanted (e.g. a synthesis stream abandoned mid-turn).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
