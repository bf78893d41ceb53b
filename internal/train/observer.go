package train

// Observer follows long-running phases, typically to draw progress bars.
// Progress may be called from several goroutines.
type Observer interface {
	Begin(phase string, total int)
	Progress(done int)
	End()
}

type nopObserver struct{}

func (nopObserver) Begin(string, int) {}
func (nopObserver) Progress(int)      {}
func (nopObserver) End()              {}
